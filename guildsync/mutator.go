package guildsync

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
	"github.com/sirupsen/logrus"
)

// ApplyResult is what one reconciliation pass leaves behind for the ledger.
type ApplyResult struct {
	Status        models.SyncStatus
	RemoteId      string
	RetryAt       *time.Time
	Discrepancies []string
	ErrorText     string
}

// Mutator executes a mutation list against the remote platform. Transient
// failures retry inline per RetryPolicy; rate limits defer to a scheduled
// window; a vanished resource resolves to deleted, never to error. The
// mutator never touches the relational rows; persisting a new remote id is
// the worker's job.
type Mutator struct {
	Remote           RemoteClient
	Cache            *MappingCache
	Logger           *logrus.Logger
	Retry            RetryPolicy
	FallbackParentId string
}

func (m *Mutator) Apply(ctx context.Context, list MutationList) ApplyResult {
	res := ApplyResult{Status: models.SyncStatusSynced, RemoteId: list.RemoteId}
	res.Discrepancies = append(res.Discrepancies, list.Inconsistencies...)
	entityKey := string(list.EntityType) + ":" + list.EntityId

	if list.NotFound {
		// Resource already gone on the platform: an achieved deletion.
		m.Cache.Evict(entityKey)
		res.Status = models.SyncStatusDeleted
		return res
	}
	if len(list.Mutations) == 0 {
		// No diff, no remote call at all.
		return res
	}

	for _, mut := range list.Mutations {
		if err := m.applyOne(ctx, list, entityKey, &res, mut); err != nil {
			return m.classifyFailure(entityKey, &res, mut, err)
		}
		if res.Status == models.SyncStatusDeleted {
			return res
		}
	}
	return res
}

func (m *Mutator) applyOne(ctx context.Context, list MutationList, entityKey string, res *ApplyResult, mut Mutation) error {
	switch mut.Kind {
	case MutationCreate:
		var created string
		parentId := mut.ParentId
		if list.EntityType == models.SyncEntityZone && parentId == "" {
			parentId = m.FallbackParentId
		}
		err := m.Retry.Do(ctx, func() error {
			var cerr error
			if list.EntityType == models.SyncEntityZone {
				created, cerr = m.Remote.CreateVoiceResource(ctx, mut.Name, parentId)
			} else {
				created, cerr = m.Remote.CreateCategoryResource(ctx, mut.Name)
			}
			return cerr
		})
		if err != nil {
			return err
		}
		res.RemoteId = created
		res.Discrepancies = append(res.Discrepancies, "created")
		m.Cache.Set(entityKey, created, parentId, mut.Name)
		return nil

	case MutationRename:
		err := m.Retry.Do(ctx, func() error {
			return m.Remote.RenameResource(ctx, res.RemoteId, mut.Name)
		})
		if err != nil {
			return err
		}
		res.Discrepancies = append(res.Discrepancies, "name")
		if entry, ok := m.Cache.Entry(res.RemoteId); ok {
			m.Cache.Set(entityKey, res.RemoteId, entry.ParentId, mut.Name)
		}
		return nil

	case MutationSetVisibility:
		err := m.Retry.Do(ctx, func() error {
			return m.Remote.SetVisibility(ctx, res.RemoteId, mut.RoleId, mut.Visible)
		})
		if err != nil {
			return err
		}
		res.Discrepancies = append(res.Discrepancies, "visibility")
		return nil

	case MutationSetRoleOverwrites:
		// Stable order keeps partial failures reproducible.
		roleIds := make([]string, 0, len(mut.Overwrites))
		for roleId := range mut.Overwrites {
			roleIds = append(roleIds, roleId)
		}
		sort.Strings(roleIds)
		for _, roleId := range roleIds {
			visible := mut.Overwrites[roleId]
			err := m.Retry.Do(ctx, func() error {
				return m.Remote.SetRoleOverwrite(ctx, res.RemoteId, roleId, visible)
			})
			if err != nil {
				return err
			}
		}
		res.Discrepancies = append(res.Discrepancies, "role_overwrites")
		return nil

	case MutationDelete:
		err := m.Retry.Do(ctx, func() error {
			return m.Remote.DeleteResource(ctx, res.RemoteId, mut.Reason)
		})
		if err != nil && !IsRemoteNotFound(err) {
			return err
		}
		m.Cache.Evict(entityKey)
		res.Status = models.SyncStatusDeleted
		return nil

	default:
		return &RemoteError{Kind: RemoteErrorPermanent, Message: "unknown mutation kind " + string(mut.Kind)}
	}
}

func (m *Mutator) classifyFailure(entityKey string, res *ApplyResult, mut Mutation, err error) ApplyResult {
	if re, ok := AsRemoteError(err); ok {
		switch re.Kind {
		case RemoteErrorNotFound:
			// The resource vanished mid-flight; deletion already achieved.
			m.Cache.Evict(entityKey)
			res.Status = models.SyncStatusDeleted
			return *res
		case RemoteErrorRateLimited:
			retryAt := time.Now().Add(re.RetryAfter)
			res.Status = models.SyncStatusPending
			res.RetryAt = &retryAt
			return *res
		}
	}
	if m.Logger != nil {
		m.Logger.WithFields(logrus.Fields{
			"module":    "guildsync",
			"entityKey": entityKey,
			"mutation":  string(mut.Kind),
		}).Error("remote mutation failed: " + err.Error())
	}
	res.Status = models.SyncStatusError
	res.ErrorText = err.Error()
	return *res
}
