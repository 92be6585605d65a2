package badger

import "errors"

// Repositories bundles every repository over one shared backend.
type Repositories struct {
	Backend     *Backend
	Papers      *PaperRepository
	Concepts    *ConceptRepository
	Links       *LinkRepository
	Schema      *SchemaRepository
	Checkpoints *CheckpointRepository
	Cache       *CacheRepository
}

// OpenRepositories opens a backend at path and wires all repositories to it.
func OpenRepositories(path string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}

	concepts, err := NewConceptRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend:     backend,
		Papers:      NewPaperRepository(backend),
		Concepts:    concepts,
		Links:       NewLinkRepository(backend),
		Schema:      NewSchemaRepository(backend),
		Checkpoints: NewCheckpointRepository(backend),
		Cache:       NewCacheRepository(backend),
	}, nil
}

// Close releases repository resources, then the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Papers.Close(),
		r.Concepts.Close(),
		r.Links.Close(),
		r.Backend.Close(),
	)
}
