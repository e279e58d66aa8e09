// Package relations keeps schema-less entities and the reverse-index sets
// that link them.
//
// Entities live in per-type stores (entity_store.databases) under
// "<Type>:<id>". A foreign key field adds the entity to the parent's child
// set "<Parent>:<fk>:<Type>s"; parents referenced together by the same entity
// are also linked to each other.
package relations

import (
	"context"
	"strings"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/shard"
)

type Entity struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// parentKey describes a foreign key field and the type it points to.
type parentKey struct {
	Field string
	Type  string
}

var parentKeys = []parentKey{
	{Field: category.FieldTeamID, Type: category.Team},
	{Field: category.FieldSponsorID, Type: category.Sponsor},
	{Field: category.FieldChampionshipID, Type: category.Championship},
}

func fieldOf(parentType string) string {
	p, _ := parentKeyOf(parentType)
	return p.Field
}

func parentKeyOf(parentType string) (parentKey, bool) {
	for _, p := range parentKeys {
		if p.Type == parentType {
			return p, true
		}
	}
	return parentKey{}, false
}

// logFailure logs errors that are not routine outcomes for the caller.
func logFailure(err error, st string, entityType string, key string, msg string) error {
	if err == nil || kverror.Expected(err) {
		return err
	}
	kvlog.Zero.Error().
		Err(err).
		Str("code", kverror.Code(err)).
		Str("shard", st).
		Str("type", entityType).
		Str("key", key).
		Msg(msg)
	return err
}

type Service struct {
	dir *shard.Directory
}

func NewService(dir *shard.Directory) *Service {
	return &Service{dir: dir}
}

func (s *Service) store(entityType string, key string) (shard.Store, error) {
	st, err := s.dir.Entity(entityType)
	if err != nil {
		return nil, logFailure(err, "", entityType, key, "relations: no store for entity type")
	}
	return st, nil
}

// Put creates the entity or overwrites the given fields of an existing one.
func (s *Service) Put(ctx context.Context, e *Entity) error {
	if e == nil || strings.TrimSpace(e.Type) == "" || strings.TrimSpace(e.ID) == "" {
		return kverror.New(kverror.KV_VALIDATION_ERROR, "entity type and id are required")
	}
	key := recordkey.StorageKey(e.Type, e.ID)
	st, err := s.store(e.Type, key)
	if err != nil {
		return err
	}

	kvlog.Zero.Debug().
		Str("type", e.Type).
		Str("shard", st.Name()).
		Str("key", key).
		Msg("relations: put entity")

	if err := st.HSet(ctx, key, e.Fields); err != nil {
		return logFailure(err, st.Name(), e.Type, key, "relations: put failed")
	}
	if err := s.link(ctx, e.Type, e.ID, e.Fields); err != nil {
		return logFailure(err, st.Name(), e.Type, key, "relations: link failed")
	}
	return nil
}

// Read returns the fields of an entity or KV_NOT_FOUND.
func (s *Service) Read(ctx context.Context, entityType string, id string) (map[string]string, error) {
	key := recordkey.StorageKey(entityType, id)
	st, err := s.store(entityType, key)
	if err != nil {
		return nil, err
	}
	fields, err := st.HGetAll(ctx, key)
	if err != nil {
		return nil, logFailure(err, st.Name(), entityType, key, "relations: read failed")
	}
	if len(fields) == 0 {
		return nil, kverror.Newf(kverror.KV_NOT_FOUND, "entity %s not found", key)
	}
	return fields, nil
}

// Update overwrites the given fields and reports false when the entity does
// not exist. A foreign key that changes value unlinks the entity from the
// old parent, and from the parents it was paired with through it.
func (s *Service) Update(ctx context.Context, entityType string, id string, updates map[string]string) (bool, error) {
	key := recordkey.StorageKey(entityType, id)
	st, err := s.store(entityType, key)
	if err != nil {
		return false, err
	}
	current, err := st.HGetAll(ctx, key)
	if err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: read failed")
	}
	if len(current) == 0 {
		return false, nil
	}

	if err := s.unlinkChanged(ctx, entityType, id, current, updates); err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: unlink failed")
	}

	if err := st.HSet(ctx, key, updates); err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: update failed")
	}
	for f, v := range updates {
		current[f] = v
	}
	if err := s.link(ctx, entityType, id, current); err != nil {
		return true, logFailure(err, st.Name(), entityType, key, "relations: link failed")
	}
	return true, nil
}

func (s *Service) unlinkChanged(ctx context.Context, entityType string, id string, current map[string]string, updates map[string]string) error {
	gone := map[string]bool{}
	for _, p := range parentKeys {
		next, ok := updates[p.Field]
		if ok && current[p.Field] != "" && current[p.Field] != next {
			gone[p.Type] = true
		}
	}
	if len(gone) == 0 {
		return nil
	}
	if err := s.unpair(ctx, entityType, id, current, gone); err != nil {
		return err
	}

	self, isParent := parentKeyOf(entityType)
	for _, p := range parentKeys {
		if !gone[p.Type] {
			continue
		}
		old := current[p.Field]
		if isParent {
			// the child set of a parent-typed entity is also a parent pair
			shared, err := s.pairShared(ctx, p, old, self, id, entityType, id)
			if err != nil {
				return err
			}
			if shared {
				continue
			}
		}
		if err := s.srem(ctx, p.Type, recordkey.RelationKey(p.Type, old, entityType), id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the entity and its links. It reports false when the entity
// does not exist.
func (s *Service) Delete(ctx context.Context, entityType string, id string) (bool, error) {
	key := recordkey.StorageKey(entityType, id)
	st, err := s.store(entityType, key)
	if err != nil {
		return false, err
	}
	fields, err := st.HGetAll(ctx, key)
	if err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: read failed")
	}
	if len(fields) == 0 {
		return false, nil
	}

	gone := make(map[string]bool, len(parentKeys))
	for _, p := range parentKeys {
		gone[p.Type] = true
	}
	if err := s.unpair(ctx, entityType, id, fields, gone); err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: unlink failed")
	}
	if err := s.unlink(ctx, entityType, id, fields); err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: unlink failed")
	}
	if fieldOf(entityType) != "" {
		if err := s.dropChildren(ctx, entityType, id); err != nil {
			return false, logFailure(err, st.Name(), entityType, key, "relations: cascade failed")
		}
	}

	kvlog.Zero.Debug().
		Str("type", entityType).
		Str("shard", st.Name()).
		Str("key", key).
		Msg("relations: delete entity")

	if _, err := st.Del(ctx, key); err != nil {
		return false, logFailure(err, st.Name(), entityType, key, "relations: delete failed")
	}
	return true, nil
}
