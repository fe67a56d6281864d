package provenance

import (
	"errors"
	"strings"

	"github.com/jorge-barreto/weave/internal/transcript"
)

// EnrichFromTranscript scans the session log of threadID, and of any thread
// it spawned, for spawn and interaction markers. Each thread is scanned at
// most once per builder. Failures become warnings; they never surface as
// errors. It returns the number of new edges.
func (b *Builder) EnrichFromTranscript(threadID string) int {
	if b.transcripts == nil || threadID == "" {
		return 0
	}
	added := 0
	queue := []string{threadID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if b.enriched[id] {
			continue
		}
		b.enriched[id] = true

		children, n := b.enrichThread(id)
		added += n
		queue = append(queue, children...)
	}
	return added
}

func (b *Builder) enrichThread(threadID string) ([]string, int) {
	tr, err := b.transcripts.Load(threadID)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			b.Warn("transcript for thread %s not found", threadID)
		} else {
			b.Warn("transcript for thread %s unreadable: %v", threadID, err)
		}
		return nil, 0
	}
	if tr.Malformed > 0 {
		b.Warn("transcript for thread %s: skipped %d malformed lines", threadID, tr.Malformed)
	}

	var children []string
	added := 0
	for _, ev := range collapseByCallID(tr.Events) {
		e, ok := edgeFromEvent(threadID, ev)
		if !ok {
			continue
		}
		from := b.threadNode(e.From)
		to := b.threadNode(e.To)
		e.From, e.To = from, to

		if e.CallID != "" {
			sig := joinKey(e.Type, e.From, e.To)
			if prev, ok := b.callIDs[e.CallID]; ok && prev != sig {
				b.Warn("call id %s maps to conflicting edges: %s vs %s", e.CallID, prev, sig)
			} else if !ok {
				b.callIDs[e.CallID] = sig
			}
		}
		if b.RecordEdge(e, TranscriptEdgeKey(e)) {
			added++
		}
		if e.Type == EdgeSpawn {
			children = append(children, strings.TrimPrefix(to, "thread:"))
		}
	}
	return children, added
}

// edgeFromEvent maps a transcript marker to an edge between raw thread ids.
// The sender defaults to the thread that owns the transcript.
func edgeFromEvent(owner string, ev transcript.Event) (Edge, bool) {
	sender := ev.SenderThreadID
	if sender == "" {
		sender = owner
	}
	typ := strings.ToLower(ev.Type)

	switch {
	case strings.Contains(typ, "spawn"):
		target := ev.NewThreadID
		if target == "" {
			target = ev.ReceiverThreadID
		}
		if target == "" {
			return Edge{}, false
		}
		return Edge{Type: EdgeSpawn, From: sender, To: target, CallID: ev.CallID,
			Status: ev.Status, Prompt: ev.Prompt, Source: SourceTranscript}, true
	case ev.ReceiverThreadID != "" || strings.Contains(typ, "interact"):
		if ev.ReceiverThreadID == "" {
			return Edge{}, false
		}
		return Edge{Type: EdgeInteract, From: sender, To: ev.ReceiverThreadID, CallID: ev.CallID,
			Status: ev.Status, Prompt: ev.Prompt, Source: SourceTranscript}, true
	}
	return Edge{}, false
}

// collapseByCallID merges begin/end pairs that share a call id so only the
// final state of each call produces an edge. Later non-empty fields win.
func collapseByCallID(events []transcript.Event) []transcript.Event {
	out := make([]transcript.Event, 0, len(events))
	index := make(map[string]int)
	for _, ev := range events {
		if ev.CallID == "" {
			out = append(out, ev)
			continue
		}
		i, ok := index[ev.CallID]
		if !ok {
			index[ev.CallID] = len(out)
			out = append(out, ev)
			continue
		}
		merged := out[i]
		mergeField(&merged.Type, ev.Type)
		mergeField(&merged.SenderThreadID, ev.SenderThreadID)
		mergeField(&merged.NewThreadID, ev.NewThreadID)
		mergeField(&merged.ReceiverThreadID, ev.ReceiverThreadID)
		mergeField(&merged.Prompt, ev.Prompt)
		mergeField(&merged.Status, ev.Status)
		out[i] = merged
	}
	return out
}

func mergeField(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
