// Package resolver maps class references, which may be either the document id
// or the short business id, to class records and display labels.
package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
)

// DefaultBatchSize matches the document store's limit on "in" query arguments.
const DefaultBatchSize = 10

const maxParallelQueries = 4

type ClassFinder interface {
	FindClassesByBusinessID(ctx context.Context, classIDsLower []string) ([]model.Class, error)
	FindClassesByID(ctx context.Context, ids []string) ([]model.Class, error)
}

type Resolver struct {
	classes   ClassFinder
	batchSize int
}

func New(classes ClassFinder, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Resolver{classes: classes, batchSize: batchSize}
}

// Labels holds resolved classes keyed by document id and by folded business id.
type Labels struct {
	byID         map[string]model.Class
	byBusinessID map[string]model.Class
}

func (l Labels) Class(ref string) (model.Class, bool) {
	if class, ok := l.byID[ref]; ok {
		return class, true
	}
	class, ok := l.byBusinessID[textnorm.Fold(ref)]
	return class, ok
}

// Label returns the class name, or the raw reference when it did not resolve.
func (l Labels) Label(ref string) string {
	if class, ok := l.Class(ref); ok {
		return class.Label()
	}
	return ref
}

// Refs returns every reference form of the class behind ref, including ref itself.
func (l Labels) Refs(ref string) []string {
	class, ok := l.Class(ref)
	if !ok {
		return []string{ref}
	}
	out := []string{class.ID}
	if class.ClassID != "" && class.ClassID != class.ID {
		out = append(out, class.ClassID)
	}
	if ref != class.ID && ref != class.ClassID {
		out = append(out, ref)
	}
	return out
}

// Map flattens the labels into ref -> label for every input ref.
func (l Labels) Map(refs []string) map[string]string {
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		out[ref] = l.Label(ref)
	}
	return out
}

// FromClasses builds labels from an already loaded class list.
func FromClasses(classes []model.Class) Labels {
	labels := Labels{byID: map[string]model.Class{}, byBusinessID: map[string]model.Class{}}
	for _, class := range classes {
		labels.add(class)
	}
	return labels
}

func (l *Labels) add(class model.Class) {
	l.byID[class.ID] = class
	if class.ClassID != "" {
		key := class.ClassIDLower
		if key == "" {
			key = textnorm.Fold(class.ClassID)
		}
		l.byBusinessID[key] = class
	}
}

// Resolve looks refs up by business id first, then looks up whatever is left by
// document id. Each lookup is split into chunks of the batch size.
func (r *Resolver) Resolve(ctx context.Context, refs []string) (Labels, error) {
	labels := Labels{byID: map[string]model.Class{}, byBusinessID: map[string]model.Class{}}

	unique := make([]string, 0, len(refs))
	folded := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		unique = append(unique, ref)
		key := textnorm.Fold(ref)
		if !seen["\x00"+key] {
			seen["\x00"+key] = true
			folded = append(folded, key)
		}
	}
	if len(unique) == 0 {
		return labels, nil
	}

	byBusiness, err := r.fetch(ctx, folded, r.classes.FindClassesByBusinessID)
	if err != nil {
		return Labels{}, err
	}
	for _, class := range byBusiness {
		labels.add(class)
	}

	remaining := make([]string, 0, len(unique))
	for _, ref := range unique {
		if _, ok := labels.Class(ref); !ok {
			remaining = append(remaining, ref)
		}
	}
	byDoc, err := r.fetch(ctx, remaining, r.classes.FindClassesByID)
	if err != nil {
		return Labels{}, err
	}
	for _, class := range byDoc {
		labels.add(class)
	}
	return labels, nil
}

func (r *Resolver) fetch(ctx context.Context, keys []string, query func(context.Context, []string) ([]model.Class, error)) ([]model.Class, error) {
	chunks := store.Chunk(keys, r.batchSize)
	if len(chunks) == 0 {
		return nil, nil
	}
	var (
		mu  sync.Mutex
		out []model.Class
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			classes, err := query(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, classes...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
