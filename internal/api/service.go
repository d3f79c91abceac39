package api

import (
	"context"

	"storyloom/internal/sequence"
	"storyloom/internal/store"
)

// BookReader abstracts the read-only store queries the API needs.
type BookReader interface {
	GetBook(ctx context.Context, id int64) (*store.Book, error)
	ListBooks(ctx context.Context, statuses ...store.BookStatus) ([]*store.Book, error)
	ListSequences(ctx context.Context, bookID int64, statuses ...sequence.Status) ([]*store.Sequence, error)
}

// BookService exposes read-only book queries returning API DTOs.
type BookService struct {
	store BookReader
}

// NewBookService constructs a BookService around the provided reader.
func NewBookService(store BookReader) *BookService {
	if store == nil {
		return nil
	}
	return &BookService{store: store}
}

// List returns books filtered by status.
func (s *BookService) List(ctx context.Context, statuses ...store.BookStatus) ([]Book, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	books, err := s.store.ListBooks(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromBooks(books), nil
}

// Describe fetches a single book, or nil when missing.
func (s *BookService) Describe(ctx context.Context, id int64) (*Book, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	book, err := s.store.GetBook(ctx, id)
	if err != nil || book == nil {
		return nil, err
	}
	dto := FromBook(book)
	return &dto, nil
}

// Sequences lists the sequences of a book in sequence order, optionally
// filtered by status. It returns nil when the book is missing.
func (s *BookService) Sequences(ctx context.Context, bookID int64, statuses ...sequence.Status) ([]Sequence, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil || book == nil {
		return nil, err
	}
	seqs, err := s.store.ListSequences(ctx, book.ID, statuses...)
	if err != nil {
		return nil, err
	}
	return FromSequences(seqs), nil
}
