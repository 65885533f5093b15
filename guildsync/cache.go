package guildsync

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/models"
)

const mappingRedisPrefix = "guildsync:mapping:"

// MappingEntry is what the cache knows about one remote child resource.
type MappingEntry struct {
	ParentId string `json:"parent_id"`
	Name     string `json:"name"`
}

// MappingCache is the process-local index from remote child resource id to
// its remote parent id, with a reverse index from local entity key so
// deletes can evict by entity. It is an optimization only; correctness
// decisions re-derive state from the relational store or the platform.
type MappingCache struct {
	mu            sync.RWMutex
	byChild       map[string]MappingEntry
	childByEntity map[string]string
}

func NewMappingCache() *MappingCache {
	return &MappingCache{
		byChild:       map[string]MappingEntry{},
		childByEntity: map[string]string{},
	}
}

func (c *MappingCache) Resolve(remoteChildId string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byChild[remoteChildId]
	if !ok {
		return "", false
	}
	return entry.ParentId, true
}

func (c *MappingCache) Entry(remoteChildId string) (MappingEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byChild[remoteChildId]
	return entry, ok
}

// Set is an idempotent overwrite. It also feeds the redis second level so a
// freshly restarted instance warms faster; redis being down is not an error.
func (c *MappingCache) Set(entityKey string, remoteChildId string, remoteParentId string, name string) {
	if remoteChildId == "" {
		return
	}
	entry := MappingEntry{ParentId: remoteParentId, Name: name}
	c.mu.Lock()
	c.byChild[remoteChildId] = entry
	if entityKey != "" {
		c.childByEntity[entityKey] = remoteChildId
	}
	c.mu.Unlock()

	_ = config.SetRedisObject(mappingRedisPrefix+remoteChildId, entry, 24*time.Hour)
}

func (c *MappingCache) ChildFor(entityKey string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child, ok := c.childByEntity[entityKey]
	return child, ok
}

// Evict removes the row keyed by the entity's last known remote child id and
// returns that id.
func (c *MappingCache) Evict(entityKey string) (string, bool) {
	c.mu.Lock()
	child, ok := c.childByEntity[entityKey]
	if ok {
		delete(c.childByEntity, entityKey)
		delete(c.byChild, child)
	}
	c.mu.Unlock()

	if ok {
		_ = config.RemoveRedisKey(mappingRedisPrefix + child)
	}
	return child, ok
}

func (c *MappingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byChild)
}

func (c *MappingCache) Clear() {
	c.mu.Lock()
	c.byChild = map[string]MappingEntry{}
	c.childByEntity = map[string]string{}
	c.mu.Unlock()
}

// ResolveOrLookup resolves a remote child's parent, falling back to redis
// and then the relational store on a miss, backfilling the cache on the way
// out. Returns utils-style not-found via ok=false when nothing owns the id.
func (c *MappingCache) ResolveOrLookup(ctx context.Context, remoteChildId string) (string, bool, error) {
	if parentId, ok := c.Resolve(remoteChildId); ok {
		return parentId, true, nil
	}

	var entry MappingEntry
	if found, err := config.GetRedisObject(mappingRedisPrefix+remoteChildId, &entry); err == nil && found {
		c.mu.Lock()
		c.byChild[remoteChildId] = entry
		c.mu.Unlock()
		return entry.ParentId, true, nil
	}

	zone, err := models.GetZoneByRemoteId(ctx, remoteChildId)
	if err != nil {
		return "", false, err
	}
	if zone != nil {
		cat, err := models.GetCategoryById(ctx, zone.CategoryId)
		if err != nil {
			return "", false, err
		}
		parentId := ""
		if cat != nil && cat.RemoteId != nil {
			parentId = *cat.RemoteId
		}
		c.Set(EntityKey(models.SyncEntityZone, zone.ID), remoteChildId, parentId, zone.EffectiveDisplayName())
		return parentId, true, nil
	}

	cat, err := models.GetCategoryByRemoteId(ctx, remoteChildId)
	if err != nil {
		return "", false, err
	}
	if cat != nil {
		// Categories are top-level; their parent id is empty.
		c.Set(EntityKey(models.SyncEntityCategory, cat.ID), remoteChildId, "", cat.Name)
		return "", true, nil
	}

	return "", false, nil
}

// WarmMappingCache rebuilds the cache from the relational store at process
// start by scanning all entities with a known remote id.
func WarmMappingCache(ctx context.Context, cache *MappingCache, guildId string) error {
	cats, err := models.ListCategoriesWithRemoteId(ctx, guildId)
	if err != nil {
		return err
	}
	parentByCategory := make(map[int]string, len(cats))
	for _, cat := range cats {
		cache.Set(EntityKey(models.SyncEntityCategory, cat.ID), *cat.RemoteId, "", cat.Name)
		parentByCategory[cat.ID] = *cat.RemoteId
	}

	zones, err := models.ListZonesWithRemoteId(ctx)
	if err != nil {
		return err
	}
	for _, zone := range zones {
		cache.Set(EntityKey(models.SyncEntityZone, zone.ID), *zone.RemoteId, parentByCategory[zone.CategoryId], zone.EffectiveDisplayName())
	}
	return nil
}
