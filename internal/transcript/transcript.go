// Package transcript locates and decodes the agent's own session logs.
// These files live outside the run directory and may be missing or partial.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotFound is returned when no transcript exists for a thread.
var ErrNotFound = errors.New("transcript not found")

var threadIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidThreadID reports whether id is safe to embed in a file pattern.
func ValidThreadID(id string) bool {
	return threadIDRe.MatchString(id)
}

// Event is one collaboration marker decoded from an event_msg record.
type Event struct {
	Type             string
	SenderThreadID   string
	NewThreadID      string
	ReceiverThreadID string
	CallID           string
	Prompt           string
	Status           string
}

// Transcript is the decoded content of one session log.
type Transcript struct {
	Path      string
	Events    []Event
	Malformed int // lines that were not valid JSON records
}

// Locator finds session logs under Root. Files are named with the thread
// id as a suffix, e.g. rollout-2026-01-02T03-04-05-<threadId>.jsonl, and may
// be nested in date directories.
type Locator struct {
	Root string
}

// NewLocator returns a locator for root. An empty root disables lookups.
func NewLocator(root string) *Locator {
	return &Locator{Root: root}
}

// Find returns the path of the newest transcript for threadID.
func (l *Locator) Find(threadID string) (string, error) {
	if l == nil || l.Root == "" {
		return "", ErrNotFound
	}
	if !ValidThreadID(threadID) {
		return "", fmt.Errorf("invalid thread id %q", threadID)
	}
	matches, err := doublestar.Glob(os.DirFS(l.Root), "**/*-"+threadID+".jsonl")
	if err != nil {
		return "", fmt.Errorf("searching transcripts: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(matches)
	return filepath.Join(l.Root, filepath.FromSlash(matches[len(matches)-1])), nil
}

// Load finds and decodes the transcript for threadID.
func (l *Locator) Load(threadID string) (*Transcript, error) {
	path, err := l.Find(threadID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	tr, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tr.Path = path
	return tr, nil
}

type record struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Read decodes JSONL records from r, keeping only event_msg payloads.
// Lines that do not decode are counted and skipped.
func Read(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)

	tr := &Transcript{}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			tr.Malformed++
			continue
		}
		if rec.Type != "event_msg" || len(rec.Payload) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			tr.Malformed++
			continue
		}
		tr.Events = append(tr.Events, Event{
			Type:             field(payload, "type"),
			SenderThreadID:   field(payload, "sender_thread_id"),
			NewThreadID:      field(payload, "new_thread_id"),
			ReceiverThreadID: field(payload, "receiver_thread_id"),
			CallID:           field(payload, "call_id"),
			Prompt:           field(payload, "prompt"),
			Status:           field(payload, "status"),
		})
	}
	if err := scanner.Err(); err != nil {
		return tr, err
	}
	return tr, nil
}

// field returns a payload value as a string. Non-string scalars and objects
// are rendered as JSON.
func field(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	// Tagged enums such as {"errored": "boom"} collapse to their tag.
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for k := range m {
			return k
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
