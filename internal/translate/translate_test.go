package translate

import "context"

// fakeTracker is an in-memory SignatureTracker for tests, avoiding a
// dependency on internal/store's Redis/ristretto wiring.
type fakeTracker struct {
	toolSigs     map[string]string
	thinkingFam  map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{toolSigs: map[string]string{}, thinkingFam: map[string]string{}}
}

func (f *fakeTracker) GetToolSignature(ctx context.Context, toolUseID string) (string, error) {
	return f.toolSigs[toolUseID], nil
}

func (f *fakeTracker) SetToolSignature(ctx context.Context, toolUseID, signature string) error {
	f.toolSigs[toolUseID] = signature
	return nil
}

func (f *fakeTracker) GetThinkingSignatureFamily(ctx context.Context, signature string) (string, error) {
	return f.thinkingFam[signature], nil
}

func (f *fakeTracker) SetThinkingSignature(ctx context.Context, signature, modelFamily string) error {
	f.thinkingFam[signature] = modelFamily
	return nil
}

func longSignature(prefix string) string {
	sig := prefix
	for len(sig) < 60 {
		sig += "x"
	}
	return sig
}
