// Package history keeps the last known location of each traced MAC in
// Redis. Every MAC is one hash, MACTRACE|<mac>, expiring after a TTL.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/mactrace/pkg/parse"
	"github.com/newtron-network/mactrace/pkg/trace"
)

// KeyPrefix is the table name in front of every history key.
const KeyPrefix = "MACTRACE"

// DefaultTTL applies when New is given a zero TTL.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is one stored trace result.
type Entry struct {
	MAC     string        `json:"mac"`
	Outcome trace.Outcome `json:"outcome"`
	Start   string        `json:"start,omitempty"`
	Device  string        `json:"device,omitempty"`
	Port    string        `json:"port,omitempty"`
	VLAN    string        `json:"vlan,omitempty"`
	Path    []trace.Hop   `json:"path,omitempty"`
	Time    time.Time     `json:"time"`
}

// NewEntry summarizes res. Device, Port and VLAN come from the last hop.
func NewEntry(res *trace.Result, start string, at time.Time) Entry {
	e := Entry{
		MAC:     res.MAC,
		Outcome: res.Outcome,
		Start:   start,
		Path:    res.Path,
		Time:    at.UTC(),
	}
	if last := res.Last(); last != nil {
		e.Device = last.Hostname
		e.Port = last.Port
		e.VLAN = last.VLAN
	}
	return e
}

func key(mac string) string {
	return fmt.Sprintf("%s|%s", KeyPrefix, mac)
}

func (e Entry) fields() (map[string]interface{}, error) {
	path, err := json.Marshal(e.Path)
	if err != nil {
		return nil, fmt.Errorf("encoding path: %w", err)
	}
	return map[string]interface{}{
		"outcome": string(e.Outcome),
		"start":   e.Start,
		"device":  e.Device,
		"port":    e.Port,
		"vlan":    e.VLAN,
		"path":    string(path),
		"time":    e.Time.Format(time.RFC3339),
	}, nil
}

func parseEntry(mac string, vals map[string]string) (*Entry, error) {
	e := &Entry{
		MAC:     mac,
		Outcome: trace.Outcome(vals["outcome"]),
		Start:   vals["start"],
		Device:  vals["device"],
		Port:    vals["port"],
		VLAN:    vals["vlan"],
	}
	if ts, ok := vals["time"]; ok {
		e.Time, _ = time.Parse(time.RFC3339, ts)
	}
	if p := vals["path"]; p != "" {
		if err := json.Unmarshal([]byte(p), &e.Path); err != nil {
			return nil, fmt.Errorf("decoding path for %s: %w", mac, err)
		}
	}
	return e, nil
}

// Store reads and writes history entries.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a store on the Redis server at addr.
func New(addr, password string, db int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Ping checks that the server answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("history store %s: %w", s.client.Options().Addr, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Record replaces the entry for e.MAC and resets its expiry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	fields, err := e.fields()
	if err != nil {
		return err
	}
	k := key(e.MAC)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fields)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.MAC, err)
	}
	return nil
}

// Lookup returns the entry for mac, or nil when there is none. mac may be
// in any accepted notation.
func (s *Store) Lookup(ctx context.Context, mac string) (*Entry, error) {
	norm, err := parse.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	vals, err := s.client.HGetAll(ctx, key(norm)).Result()
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", norm, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return parseEntry(norm, vals)
}

// List returns every stored entry, most recent first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	keys, err := scanKeys(ctx, s.client, KeyPrefix+"|*", 100)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	var entries []Entry
	for _, k := range keys {
		vals, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", k, err)
		}
		if len(vals) == 0 {
			continue // expired between SCAN and HGETALL
		}
		e, err := parseEntry(strings.TrimPrefix(k, KeyPrefix+"|"), vals)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})
	return entries, nil
}

// Forget deletes the entry for mac.
func (s *Store) Forget(ctx context.Context, mac string) error {
	norm, err := parse.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key(norm)).Err()
}

func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
