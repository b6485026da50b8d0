package pool

import (
	"njord/domain/book"
	"njord/domain/state"
	"njord/domain/vault"
)

// Image is one pool's complete persistent state.
type Image struct {
	Pair  Pair
	Book  book.Image
	State state.Image
	Vault vault.Image
}

// Export captures the pool under its lock, so the image is one
// consistent cut across book, accounting, and vault.
func (p *Pool) Export() Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Image{
		Pair:  p.pair,
		Book:  p.book.Export(),
		State: p.state.Export(),
		Vault: p.vault.Export(),
	}
}

// FromImage rebuilds a pool from an exported image. cfg supplies the
// runtime collaborators; sizes come from the image.
func FromImage(img Image, cfg Config) *Pool {
	cfg.TickSize = img.Book.TickSize
	cfg.LotSize = img.Book.LotSize
	cfg.MinSize = img.Book.MinSize
	p := NewPool(img.Pair, cfg, 0)
	p.book.Load(img.Book)
	p.state.Load(img.State)
	p.vault.Load(img.Vault)
	return p
}
