package dex

import "testing"

// HoldWriter takes the writer lock of the named live index until the
// returned func is called.
func HoldWriter(t testing.TB, x *Indexer, name string) func() {
	t.Helper()
	g, release, err := x.acquire()
	if err != nil {
		t.Fatalf("hold writer: %v", err)
	}
	ix := g.indexes[name]
	if !ix.lock.tryLock() {
		t.Fatalf("hold writer: %s is busy", name)
	}
	return func() {
		ix.lock.unlock()
		release()
	}
}
