package usecase

import (
	"strings"
	"sync"

	"whisperpad/internal/domain"
)

// transcriptBuffer holds the three-tier live transcript. Confirmed text only
// ever grows; pending and decoding are fully replaced on every update.
type transcriptBuffer struct {
	mu        sync.Mutex
	confirmed strings.Builder
	pending   string
	decoding  string
}

func (b *transcriptBuffer) apply(res domain.ChunkResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed.WriteString(res.ConfirmedDelta)
	b.pending = res.Pending
	b.decoding = res.Decoding
}

func (b *transcriptBuffer) view() domain.TranscriptView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.TranscriptView{
		Confirmed: b.confirmed.String(),
		Pending:   b.pending,
		Decoding:  b.decoding,
	}
}
