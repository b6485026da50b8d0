package memory

import "testing"

type rec struct {
	id  uint64
	qty uint64
}

func TestPoolZeroesOnPut(t *testing.T) {
	p := NewPool(func() *rec { return &rec{} })

	r := p.Get()
	r.id = 7
	r.qty = 42
	p.Put(r)

	got := p.Get()
	if got.id != 0 || got.qty != 0 {
		t.Fatalf("recycled object not zeroed: %+v", got)
	}
}

func TestPoolConstructsWhenEmpty(t *testing.T) {
	calls := 0
	p := NewPool(func() *rec { calls++; return &rec{} })

	a := p.Get()
	b := p.Get()
	if a == b {
		t.Fatal("distinct Gets returned the same object")
	}
	if calls == 0 {
		t.Fatal("constructor never ran")
	}
}
