package persistence

import "context"

// TranslationMemory adapts the SQLite store to the execution engine's
// cache interface.
type TranslationMemory struct {
	store *SQLiteStore
}

func NewTranslationMemory(store *SQLiteStore) *TranslationMemory {
	return &TranslationMemory{store: store}
}

func (m *TranslationMemory) Get(ctx context.Context, fingerprint, sourceText string) (string, bool, error) {
	return m.store.GetMemory(ctx, fingerprint, sourceText)
}

func (m *TranslationMemory) Put(ctx context.Context, fingerprint, sourceText, translated, model string) error {
	return m.store.PutMemory(ctx, MemoryEntry{
		Fingerprint: fingerprint,
		SourceText:  sourceText,
		Translated:  translated,
		Model:       model,
	})
}
