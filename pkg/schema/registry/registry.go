// Package registry keeps versioned schemas per subject, the way a schema
// registry does for a message bus: every distinct schema gets a globally
// unique id, a subject's versions are numbered from 1, and a new version is
// accepted only if it is compatible with its predecessors under the
// subject's compatibility mode.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats/avro"
	"github.com/ajitpratap0/recordbridge/pkg/json"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Version is one registered version of a subject's schema
type Version struct {
	Subject       string         `json:"subject"`
	Version       int            `json:"version"`
	ID            int            `json:"id"`
	Schema        *schema.Schema `json:"schema"`
	Fingerprint   string         `json:"fingerprint"`
	Compatibility Compatibility  `json:"compatibility"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ChangeHook is called after a subject gets a new version. old is nil for
// the first version.
type ChangeHook func(subject string, old, new *Version)

// Registry manages schema versions and evolution
type Registry struct {
	subjects      map[string][]*Version
	byID          map[int]*Version
	compatibility map[string]Compatibility
	defaultMode   Compatibility
	nextID        int
	mu            sync.RWMutex
	logger        *zap.Logger

	onChange []ChangeHook
	inferrer *schema.Inferrer
}

// Option configures a Registry
type Option func(*Registry)

// WithDefaultCompatibility sets the mode of subjects without their own
func WithDefaultCompatibility(mode Compatibility) Option {
	return func(r *Registry) { r.defaultMode = mode }
}

// WithInferrer sets the inferrer Evolve uses on samples
func WithInferrer(i *schema.Inferrer) Option {
	return func(r *Registry) { r.inferrer = i }
}

// New creates an empty registry. Subjects default to backward compatibility.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		subjects:      make(map[string][]*Version),
		byID:          make(map[int]*Version),
		compatibility: make(map[string]Compatibility),
		defaultMode:   CompatibilityBackward,
		nextID:        1,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.inferrer == nil {
		r.inferrer = schema.NewInferrer(logger)
	}
	return r
}

// Register adds s as the next version of subject and returns it. A schema
// equal to an existing version of the subject returns that version instead.
func (r *Registry) Register(ctx context.Context, subject string, s *schema.Schema) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "subject is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	fingerprint, err := avro.Fingerprint(s)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	var (
		hooks   []ChangeHook
		version *Version
		prev    *Version
	)
	err = func() error {
		defer r.mu.Unlock()

		versions := r.subjects[subject]
		if existing := find(versions, fingerprint, s); existing != nil {
			r.logger.Debug("schema already registered",
				zap.String("subject", subject),
				zap.Int("version", existing.Version))
			version = existing
			return nil
		}

		mode := r.modeLocked(subject)
		if err := checkVersions(mode, versions, s); err != nil {
			return err
		}

		id := r.nextID
		if same := r.findGlobal(fingerprint, s); same != nil {
			id = same.ID
		} else {
			r.nextID++
		}
		version = &Version{
			Subject:       subject,
			Version:       len(versions) + 1,
			ID:            id,
			Schema:        s.Clone(),
			Fingerprint:   fingerprint,
			Compatibility: mode,
			CreatedAt:     time.Now().UTC(),
		}
		if len(versions) > 0 {
			prev = versions[len(versions)-1]
		}
		r.subjects[subject] = append(versions, version)
		if _, taken := r.byID[id]; !taken {
			r.byID[id] = version
		}
		hooks = append(hooks, r.onChange...)

		fields := []zap.Field{
			zap.String("subject", subject),
			zap.Int("version", version.Version),
			zap.Int("id", id),
			zap.String("fingerprint", fingerprint),
		}
		if prev != nil {
			fields = append(fields, zap.Int("changes", len(Diff(prev.Schema, s))))
		}
		r.logger.Info("schema registered", fields...)
		return nil
	}()
	if err != nil {
		return nil, err
	}

	for _, hook := range hooks {
		hook(subject, prev, version)
	}
	return version, nil
}

// find returns the version whose schema equals s
func find(versions []*Version, fingerprint string, s *schema.Schema) *Version {
	for _, v := range versions {
		// a fingerprint match is confirmed with Equal
		if v.Fingerprint == fingerprint && v.Schema.Equal(s) {
			return v
		}
	}
	return nil
}

func (r *Registry) findGlobal(fingerprint string, s *schema.Schema) *Version {
	for _, v := range r.byID {
		if v.Fingerprint == fingerprint && v.Schema.Equal(s) {
			return v
		}
	}
	return nil
}

// Check reports whether s could be registered as the next version of
// subject without registering it
func (r *Registry) Check(subject string, s *schema.Schema) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return checkVersions(r.modeLocked(subject), r.subjects[subject], s)
}

// Get returns a version of a subject, counting from 1
func (r *Registry) Get(subject string, version int) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.subjects[subject]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "subject %s not found", subject)
	}
	if version <= 0 || version > len(versions) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "version %d not found for subject %s", version, subject)
	}
	return versions[version-1], nil
}

// Latest returns the newest version of a subject
func (r *Registry) Latest(subject string) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.subjects[subject]
	if len(versions) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "subject %s not found", subject)
	}
	return versions[len(versions)-1], nil
}

// ByID returns the first version registered with a schema id
func (r *Registry) ByID(id int) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[id]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "schema id %d not found", id)
	}
	return v, nil
}

// History returns every version of a subject, oldest first
func (r *Registry) History(subject string) ([]*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.subjects[subject]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "subject %s not found", subject)
	}
	history := make([]*Version, len(versions))
	copy(history, versions)
	return history, nil
}

// Subjects returns the registered subjects in order
func (r *Registry) Subjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subjects := make([]string, 0, len(r.subjects))
	for s := range r.subjects {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	return subjects
}

// SetCompatibility sets the mode new versions of subject are checked with
func (r *Registry) SetCompatibility(subject string, mode Compatibility) error {
	if !mode.Valid() {
		return errors.Newf(errors.ErrorTypeConfig, "unknown compatibility mode %q", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compatibility[subject] = mode
	r.logger.Info("compatibility mode set",
		zap.String("subject", subject),
		zap.String("mode", string(mode)))
	return nil
}

// Compatibility returns the mode of a subject
func (r *Registry) Compatibility(subject string) Compatibility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modeLocked(subject)
}

func (r *Registry) modeLocked(subject string) Compatibility {
	if mode, ok := r.compatibility[subject]; ok {
		return mode
	}
	return r.defaultMode
}

// Evolve widens the latest schema of subject to hold samples and registers
// the result when it differs. Without a latest version the schema is
// inferred from the samples alone.
func (r *Registry) Evolve(ctx context.Context, subject string, samples []map[string]any) (*Version, error) {
	inferred, err := r.inferrer.InferSchema(subject, samples)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to infer schema")
	}

	current, err := r.Latest(subject)
	if err != nil {
		inferred.Name = schema.SanitizeName(subject)
		return r.Register(ctx, subject, inferred)
	}

	merged := schema.Finalize(schema.Merge(current.Schema.RecordType(), inferred.RecordType()))
	evolved := current.Schema.Clone()
	evolved.Fields = merged.Fields
	if evolved.Equal(current.Schema) {
		return current, nil
	}
	r.logger.Info("schema evolved",
		zap.String("subject", subject),
		zap.Int("changes", len(Diff(current.Schema, evolved))))
	return r.Register(ctx, subject, evolved)
}

// OnChange registers a hook run after every new version
func (r *Registry) OnChange(hook ChangeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, hook)
}

type state struct {
	Subjects      map[string][]*Version    `json:"subjects"`
	Compatibility map[string]Compatibility `json:"compatibility"`
	Default       Compatibility            `json:"default_compatibility"`
}

// Export renders the registry state as JSON
func (r *Registry) Export() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := json.MarshalIndent(state{
		Subjects:      r.subjects,
		Compatibility: r.compatibility,
		Default:       r.defaultMode,
	}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to export registry")
	}
	return data, nil
}

// Import replaces the registry state with one produced by Export
func (r *Registry) Import(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to decode registry state")
	}

	subjects := make(map[string][]*Version, len(st.Subjects))
	byID := make(map[int]*Version)
	nextID := 1
	for subject, versions := range st.Subjects {
		for i, v := range versions {
			if v == nil || v.Schema == nil {
				return errors.Newf(errors.ErrorTypeSchema, "subject %s has an empty version", subject)
			}
			if v.Version != i+1 {
				return errors.Newf(errors.ErrorTypeSchema, "subject %s has version %d at position %d", subject, v.Version, i+1)
			}
			if err := v.Schema.Validate(); err != nil {
				return err
			}
			v.Subject = subject
			if first, ok := byID[v.ID]; !ok || v.CreatedAt.Before(first.CreatedAt) {
				byID[v.ID] = v
			}
			nextID = max(nextID, v.ID+1)
		}
		subjects[subject] = versions
	}
	compatibility := st.Compatibility
	if compatibility == nil {
		compatibility = make(map[string]Compatibility)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = subjects
	r.byID = byID
	r.nextID = nextID
	r.compatibility = compatibility
	if st.Default.Valid() {
		r.defaultMode = st.Default
	}
	return nil
}
