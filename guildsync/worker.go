package guildsync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/models"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine is the reconciliation engine: it consumes change events, resolves
// desired state from the relational store, diffs against prior or live
// remote state, applies mutations, and records the outcome in the sync
// ledger. One entity reconciles at a time; distinct entities run
// concurrently.
type Engine struct {
	DB      *gorm.DB
	Cache   *MappingCache
	Logger  *logrus.Logger
	Mutator *Mutator
	GuildId string

	lockMu   sync.Mutex
	entityMu map[string]*sync.Mutex
}

func NewEngine(db *gorm.DB, remote RemoteClient, cache *MappingCache, logger *logrus.Logger) *Engine {
	return &Engine{
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		GuildId: config.GetGuildId(),
		Mutator: &Mutator{
			Remote:           remote,
			Cache:            cache,
			Logger:           logger,
			Retry:            DefaultRetryPolicy(),
			FallbackParentId: config.GetFallbackParentId(),
		},
		entityMu: map[string]*sync.Mutex{},
	}
}

// lockEntity serializes reconciliation per entity within this process and,
// when redis is up, across instances. A superseding event for the same
// entity therefore waits for the in-flight pass and then re-diffs against
// current state, so staleness self-corrects.
func (e *Engine) lockEntity(ctx context.Context, entityKey string) func() {
	e.lockMu.Lock()
	mu, ok := e.entityMu[entityKey]
	if !ok {
		mu = &sync.Mutex{}
		e.entityMu[entityKey] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()

	var dlock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "guildsync:lock:"+entityKey, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
		})
		if err == nil {
			dlock = lock
		} else if e.Logger != nil {
			e.Logger.WithFields(logrus.Fields{
				"module":    "guildsync",
				"entityKey": entityKey,
			}).Warn("could not obtain distributed lock, proceeding with local lock only: " + err.Error())
		}
	}

	return func() {
		if dlock != nil {
			_ = dlock.Release(context.Background())
		}
		mu.Unlock()
	}
}

// HandleChangeEvent is the single entry point for feed deliveries. A nil
// return acks the message; an error nacks it for redelivery. Only
// infrastructure failures (DB unreachable) propagate; remote-platform
// outcomes land in the ledger instead.
func (e *Engine) HandleChangeEvent(ctx context.Context, ev ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		e.warn("HandleChangeEvent", "malformed change event, skipping", err)
		return nil
	}
	if ev.GuildId != "" && e.GuildId != "" && ev.GuildId != e.GuildId {
		e.warn("HandleChangeEvent", "event for foreign guild "+ev.GuildId+", skipping", nil)
		return nil
	}
	if ev.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, ev.CorrelationId)
	}

	switch ev.EntityType {
	case models.SyncEntityCategory:
		if ev.Operation == OpDelete {
			return e.handleCategoryDelete(ctx, ev)
		}
		return e.reconcileCategory(ctx, ev)
	case models.SyncEntityZone:
		if ev.Operation == OpDelete {
			return e.handleZoneDelete(ctx, ev)
		}
		return e.reconcileZone(ctx, ev)
	default:
		e.warn("HandleChangeEvent", "unknown entity type "+string(ev.EntityType)+", skipping", nil)
		return nil
	}
}

func (e *Engine) reconcileCategory(ctx context.Context, ev ChangeEvent) error {
	after, ok := decodeCategoryRow(ev.After)
	if !ok {
		e.warn("reconcileCategory", "incomplete event payload, skipping", nil)
		return nil
	}

	entityKey := EntityKey(models.SyncEntityCategory, after.Id)
	unlock := e.lockEntity(ctx, entityKey)
	defer unlock()

	cat, err := models.GetCategoryById(ctx, after.Id)
	if err != nil {
		return err
	}
	if cat == nil {
		// Row vanished between the event and processing; fold into the
		// deletion flow with whatever the payload still knows.
		return e.categoryDeleteLocked(ctx, ev, after)
	}

	desired := DesiredFromCategory(cat)
	entityId := strconv.Itoa(cat.ID)

	initialStatus := models.SyncStatusPending
	if desired.RemoteDeleted && desired.RemoteId != "" {
		initialStatus = models.SyncStatusPendingDelete
	}
	_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityCategory, e.GuildId, initialStatus, models.SyncRecordData{
		RemoteId:      desired.RemoteId,
		CorrelationId: ev.CorrelationId,
	})

	var list MutationList
	prior, priorOK := decodeCategoryRow(ev.Before)
	switch {
	case desired.RemoteId == "" || desired.RemoteDeleted:
		list = ComputeCategoryMutations(desired, nil, e.everyoneRoleId())
	case priorOK && prior.HasDiffFields():
		list = ComputeCategoryMutationsFromPrior(desired, prior, e.everyoneRoleId())
	default:
		// Unknown prior state: diff desired against live remote state, never
		// against a partial payload.
		remote, failure := e.fetchRemoteState(ctx, desired.RemoteId)
		if failure != nil {
			e.record(ctx, entityId, models.SyncEntityCategory, ev.CorrelationId, *failure)
			return nil
		}
		list = ComputeCategoryMutations(desired, remote, e.everyoneRoleId())
	}

	res := e.Mutator.Apply(ctx, list)
	if res.RemoteId != "" && desired.RemoteId == "" {
		if err := models.SetCategoryRemoteId(ctx, cat.ID, res.RemoteId); err != nil {
			config.LogError(e.Logger, "worker.go", "reconcileCategory", "persisting new remote id", entityId, err)
		}
	}
	e.record(ctx, entityId, models.SyncEntityCategory, ev.CorrelationId, res)
	return nil
}

func (e *Engine) reconcileZone(ctx context.Context, ev ChangeEvent) error {
	after, ok := decodeZoneRow(ev.After)
	if !ok {
		e.warn("reconcileZone", "incomplete event payload, skipping", nil)
		return nil
	}

	entityKey := EntityKey(models.SyncEntityZone, after.Id)
	unlock := e.lockEntity(ctx, entityKey)
	defer unlock()

	zone, err := models.GetZoneById(ctx, after.Id)
	if err != nil {
		return err
	}
	if zone == nil {
		return e.zoneDeleteLocked(ctx, ev, after)
	}

	parentRemoteId, err := e.resolveZoneParent(ctx, zone)
	if err != nil {
		return err
	}

	desired := DesiredFromZone(zone, parentRemoteId)
	entityId := strconv.Itoa(zone.ID)

	_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityZone, e.GuildId, models.SyncStatusPending, models.SyncRecordData{
		RemoteId:      desired.RemoteId,
		CorrelationId: ev.CorrelationId,
	})

	var list MutationList
	prior, priorOK := decodeZoneRow(ev.Before)
	switch {
	case desired.RemoteId == "":
		list = ComputeZoneMutations(desired, nil)
	case priorOK && prior.HasDiffFields():
		list = MutationList{EntityId: entityId, EntityType: models.SyncEntityZone, RemoteId: desired.RemoteId}
		if prior.DisplayName != nil && desired.Name != *prior.DisplayName {
			list.Mutations = append(list.Mutations, Mutation{Kind: MutationRename, Name: desired.Name})
		}
	default:
		remote, failure := e.fetchRemoteState(ctx, desired.RemoteId)
		if failure != nil {
			e.record(ctx, entityId, models.SyncEntityZone, ev.CorrelationId, *failure)
			return nil
		}
		list = ComputeZoneMutations(desired, remote)
	}

	for _, inconsistency := range list.Inconsistencies {
		e.warn("reconcileZone", "mapping inconsistency for zone "+entityId+": "+inconsistency, nil)
	}

	res := e.Mutator.Apply(ctx, list)
	if res.RemoteId != "" && desired.RemoteId == "" {
		if err := models.SetZoneRemoteId(ctx, zone.ID, res.RemoteId); err != nil {
			config.LogError(e.Logger, "worker.go", "reconcileZone", "persisting new remote id", entityId, err)
		}
	}
	e.record(ctx, entityId, models.SyncEntityZone, ev.CorrelationId, res)
	return nil
}

// resolveZoneParent finds the remote id of the zone's parent category,
// consulting the mapping cache (with its redis and relational fallbacks)
// before reading the category row directly. The cache backfills itself on
// a miss, so repeat reconciliations skip the extra queries.
func (e *Engine) resolveZoneParent(ctx context.Context, zone *models.Zone) (string, error) {
	if e.Cache != nil && zone.RemoteId != nil && *zone.RemoteId != "" {
		parentId, ok, err := e.Cache.ResolveOrLookup(ctx, *zone.RemoteId)
		if err != nil {
			return "", err
		}
		if ok && parentId != "" {
			return parentId, nil
		}
	}

	cat, err := models.GetCategoryById(ctx, zone.CategoryId)
	if err != nil {
		return "", err
	}
	if cat != nil && cat.RemoteId != nil {
		return *cat.RemoteId, nil
	}
	return "", nil
}

func (e *Engine) handleCategoryDelete(ctx context.Context, ev ChangeEvent) error {
	row, ok := decodeCategoryRow(ev.Before)
	if !ok {
		if row, ok = decodeCategoryRow(ev.After); !ok {
			e.warn("handleCategoryDelete", "incomplete delete payload, skipping", nil)
			return nil
		}
	}

	entityKey := EntityKey(models.SyncEntityCategory, row.Id)
	unlock := e.lockEntity(ctx, entityKey)
	defer unlock()

	return e.categoryDeleteLocked(ctx, ev, row)
}

// categoryDeleteLocked runs the deletion flow; the caller holds the entity
// lock.
func (e *Engine) categoryDeleteLocked(ctx context.Context, ev ChangeEvent, row CategoryRow) error {
	entityKey := EntityKey(models.SyncEntityCategory, row.Id)
	entityId := strconv.Itoa(row.Id)
	var rowRemoteId string
	if row.RemoteId != nil {
		rowRemoteId = *row.RemoteId
	}
	remoteId, err := e.recoverRemoteId(ctx, entityKey, entityId, models.SyncEntityCategory, rowRemoteId)
	if err != nil {
		return err
	}
	if remoteId == "" {
		// Nothing remote to delete; a local-only cleanup.
		e.info("handleCategoryDelete", "no remote id recoverable for category "+entityId+", local-only delete")
		_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityCategory, e.GuildId, models.SyncStatusDeleted, models.SyncRecordData{
			CorrelationId: ev.CorrelationId,
		})
		return nil
	}

	_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityCategory, e.GuildId, models.SyncStatusPendingDelete, models.SyncRecordData{
		RemoteId:      remoteId,
		CorrelationId: ev.CorrelationId,
	})

	res := e.Mutator.Apply(ctx, CategoryDeleteMutations(row.Id, remoteId, e.GuildId))
	e.record(ctx, entityId, models.SyncEntityCategory, ev.CorrelationId, res)
	return nil
}

func (e *Engine) handleZoneDelete(ctx context.Context, ev ChangeEvent) error {
	row, ok := decodeZoneRow(ev.Before)
	if !ok {
		if row, ok = decodeZoneRow(ev.After); !ok {
			e.warn("handleZoneDelete", "incomplete delete payload, skipping", nil)
			return nil
		}
	}

	entityKey := EntityKey(models.SyncEntityZone, row.Id)
	unlock := e.lockEntity(ctx, entityKey)
	defer unlock()

	return e.zoneDeleteLocked(ctx, ev, row)
}

func (e *Engine) zoneDeleteLocked(ctx context.Context, ev ChangeEvent, row ZoneRow) error {
	entityKey := EntityKey(models.SyncEntityZone, row.Id)
	entityId := strconv.Itoa(row.Id)
	var rowRemoteId string
	if row.RemoteId != nil {
		rowRemoteId = *row.RemoteId
	}
	remoteId, err := e.recoverRemoteId(ctx, entityKey, entityId, models.SyncEntityZone, rowRemoteId)
	if err != nil {
		return err
	}
	if remoteId == "" {
		e.info("handleZoneDelete", "no remote id recoverable for zone "+entityId+", local-only delete")
		_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityZone, e.GuildId, models.SyncStatusDeleted, models.SyncRecordData{
			CorrelationId: ev.CorrelationId,
		})
		return nil
	}

	_ = models.RecordSyncOutcome(ctx, e.DB, entityId, models.SyncEntityZone, e.GuildId, models.SyncStatusPendingDelete, models.SyncRecordData{
		RemoteId:      remoteId,
		CorrelationId: ev.CorrelationId,
	})

	res := e.Mutator.Apply(ctx, ZoneDeleteMutations(row.Id, remoteId))
	e.record(ctx, entityId, models.SyncEntityZone, ev.CorrelationId, res)
	return nil
}

// fetchRemoteState fetches live remote state under the retry policy.
// (nil, nil) means the resource is gone on the platform; a non-nil failure
// carries the ledger outcome for a fetch that could not complete.
func (e *Engine) fetchRemoteState(ctx context.Context, remoteId string) (*RemoteResource, *ApplyResult) {
	var remote *RemoteResource
	err := e.Mutator.Retry.Do(ctx, func() error {
		r, ferr := e.Mutator.Remote.FetchResource(ctx, remoteId)
		if ferr != nil {
			return ferr
		}
		remote = r
		return nil
	})
	if err == nil {
		return remote, nil
	}
	if IsRemoteNotFound(err) {
		return nil, nil
	}

	res := ApplyResult{RemoteId: remoteId}
	if re, ok := AsRemoteError(err); ok && re.Kind == RemoteErrorRateLimited {
		retryAt := time.Now().Add(re.RetryAfter)
		res.Status = models.SyncStatusPending
		res.RetryAt = &retryAt
	} else {
		res.Status = models.SyncStatusError
		res.ErrorText = err.Error()
	}
	return nil, &res
}

func (e *Engine) record(ctx context.Context, entityId string, entityType models.SyncEntityType, correlationId string, res ApplyResult) {
	err := models.RecordSyncOutcome(ctx, e.DB, entityId, entityType, e.GuildId, res.Status, models.SyncRecordData{
		RemoteId:      res.RemoteId,
		Discrepancies: res.Discrepancies,
		Error:         res.ErrorText,
		RetryAt:       res.RetryAt,
		CorrelationId: correlationId,
	})
	if err != nil {
		config.LogError(e.Logger, "worker.go", "record", "writing sync ledger", entityId, err)
	}
}

func (e *Engine) everyoneRoleId() string {
	// The guild-wide role shares the guild's id on the platform.
	return e.GuildId
}

func (e *Engine) warn(funcName string, msg string, err error) {
	if e.Logger == nil {
		return
	}
	entry := e.Logger.WithFields(logrus.Fields{"module": "guildsync", "funcName": funcName})
	if err != nil {
		entry.Warn(msg + ": " + err.Error())
		return
	}
	entry.Warn(msg)
}

func (e *Engine) info(funcName string, msg string) {
	if e.Logger == nil {
		return
	}
	e.Logger.WithFields(logrus.Fields{"module": "guildsync", "funcName": funcName}).Info(msg)
}
