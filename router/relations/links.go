package relations

import (
	"context"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
)

func (s *Service) sadd(ctx context.Context, storeType string, key string, member string) error {
	st, err := s.dir.Entity(storeType)
	if err != nil {
		return err
	}
	return st.SAdd(ctx, key, member)
}

func (s *Service) srem(ctx context.Context, storeType string, key string, member string) error {
	st, err := s.dir.Entity(storeType)
	if err != nil {
		return err
	}
	return st.SRem(ctx, key, member)
}

// link adds the entity to the child set of every parent it references and
// cross-links the parents referenced together.
func (s *Service) link(ctx context.Context, entityType string, id string, fields map[string]string) error {
	refs := make(map[string]string, len(parentKeys))
	for _, p := range parentKeys {
		if v := fields[p.Field]; v != "" {
			refs[p.Type] = v
			if err := s.sadd(ctx, p.Type, recordkey.RelationKey(p.Type, v, entityType), id); err != nil {
				return err
			}
		}
	}

	for i, a := range parentKeys {
		for _, b := range parentKeys[i+1:] {
			aid, bid := refs[a.Type], refs[b.Type]
			if aid == "" || bid == "" {
				continue
			}
			if err := s.sadd(ctx, a.Type, recordkey.RelationKey(a.Type, aid, b.Type), bid); err != nil {
				return err
			}
			if err := s.sadd(ctx, b.Type, recordkey.RelationKey(b.Type, bid, a.Type), aid); err != nil {
				return err
			}
		}
	}
	return nil
}

// unlink removes the entity from the child sets of its parents.
func (s *Service) unlink(ctx context.Context, entityType string, id string, fields map[string]string) error {
	for _, p := range parentKeys {
		if v := fields[p.Field]; v != "" {
			if err := s.srem(ctx, p.Type, recordkey.RelationKey(p.Type, v, entityType), id); err != nil {
				return err
			}
		}
	}
	return nil
}

// unpair removes the parent pairs the entity linked through the parents
// listed in gone, unless another entity still links the same pair.
func (s *Service) unpair(ctx context.Context, entityType string, id string, fields map[string]string, gone map[string]bool) error {
	for i, a := range parentKeys {
		for _, b := range parentKeys[i+1:] {
			aid, bid := fields[a.Field], fields[b.Field]
			if aid == "" || bid == "" || !(gone[a.Type] || gone[b.Type]) {
				continue
			}
			shared, err := s.pairShared(ctx, a, aid, b, bid, entityType, id)
			if err != nil {
				return err
			}
			if shared {
				continue
			}
			if err := s.srem(ctx, a.Type, recordkey.RelationKey(a.Type, aid, b.Type), bid); err != nil {
				return err
			}
			if err := s.srem(ctx, b.Type, recordkey.RelationKey(b.Type, bid, a.Type), aid); err != nil {
				return err
			}
		}
	}
	return nil
}

// pairShared reports whether a parent pair is still linked by an entity
// other than entityType:id, either a common child or one parent pointing
// at the other.
func (s *Service) pairShared(ctx context.Context, a parentKey, aid string, b parentKey, bid string, entityType string, id string) (bool, error) {
	for _, direct := range []struct {
		owner    parentKey
		ownerID  string
		target   parentKey
		targetID string
	}{
		{owner: a, ownerID: aid, target: b, targetID: bid},
		{owner: b, ownerID: bid, target: a, targetID: aid},
	} {
		if direct.owner.Type == entityType && direct.ownerID == id {
			continue
		}
		st, err := s.dir.Entity(direct.owner.Type)
		if err != nil {
			return false, err
		}
		v, ok, err := st.HGet(ctx, recordkey.StorageKey(direct.owner.Type, direct.ownerID), direct.target.Field)
		if err != nil {
			return false, err
		}
		if ok && v == direct.targetID {
			return true, nil
		}
	}

	ast, err := s.dir.Entity(a.Type)
	if err != nil {
		return false, err
	}
	bst, err := s.dir.Entity(b.Type)
	if err != nil {
		return false, err
	}
	for _, childType := range s.dir.EntityTypes() {
		if childType == a.Type || childType == b.Type {
			continue
		}
		am, err := ast.SMembers(ctx, recordkey.RelationKey(a.Type, aid, childType))
		if err != nil {
			return false, err
		}
		if len(am) == 0 {
			continue
		}
		bm, err := bst.SMembers(ctx, recordkey.RelationKey(b.Type, bid, childType))
		if err != nil {
			return false, err
		}
		seen := make(map[string]struct{}, len(bm))
		for _, m := range bm {
			seen[m] = struct{}{}
		}
		for _, m := range am {
			if childType == entityType && m == id {
				continue
			}
			if _, ok := seen[m]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// dropChildren clears the child sets of a parent entity being deleted.
// Every child loses the foreign key field and linked parents also lose
// their reciprocal entry, on a best-effort basis.
func (s *Service) dropChildren(ctx context.Context, parentType string, id string) error {
	st, err := s.dir.Entity(parentType)
	if err != nil {
		return err
	}
	field := fieldOf(parentType)

	for _, childType := range s.dir.EntityTypes() {
		setKey := recordkey.RelationKey(parentType, id, childType)
		members, err := st.SMembers(ctx, setKey)
		if err != nil {
			return err
		}

		for _, m := range members {
			var err error
			if fieldOf(childType) != "" {
				err = s.srem(ctx, childType, recordkey.RelationKey(childType, m, parentType), id)
			}
			if err == nil {
				err = s.clearField(ctx, childType, m, field)
			}
			if err != nil {
				kvlog.Zero.Warn().
					Err(err).
					Str("parent", recordkey.StorageKey(parentType, id)).
					Str("child", recordkey.StorageKey(childType, m)).
					Msg("relations: could not unlink child, skipping")
			}
		}

		if _, err := st.Del(ctx, setKey); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearField(ctx context.Context, entityType string, id string, field string) error {
	st, err := s.dir.Entity(entityType)
	if err != nil {
		return err
	}
	return st.HDel(ctx, recordkey.StorageKey(entityType, id), field)
}
