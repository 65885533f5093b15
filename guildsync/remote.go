package guildsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type RemoteErrorKind string

const (
	RemoteErrorTransient   RemoteErrorKind = "transient"
	RemoteErrorRateLimited RemoteErrorKind = "rate_limited"
	RemoteErrorNotFound    RemoteErrorKind = "not_found"
	RemoteErrorPermanent   RemoteErrorKind = "permanent"
)

// RemoteError is the failure taxonomy for all remote-platform calls.
// RetryAfter is only set for rate_limited.
type RemoteError struct {
	Kind       RemoteErrorKind
	RetryAfter time.Duration
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Kind == RemoteErrorRateLimited {
		return fmt.Sprintf("remote %s (retry after %s): %s", e.Kind, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func IsRemoteNotFound(err error) bool {
	re, ok := AsRemoteError(err)
	return ok && re.Kind == RemoteErrorNotFound
}

func IsRemoteTransient(err error) bool {
	re, ok := AsRemoteError(err)
	return ok && re.Kind == RemoteErrorTransient
}

// RemoteResource is the observed remote state of one category or voice
// channel. RoleVisibility holds permission overwrites keyed by role id; a
// role with no entry has no overwrite and sees the resource.
type RemoteResource struct {
	Id             string
	Name           string
	ParentId       string
	Kind           string // "category" | "voice"
	RoleVisibility map[string]bool
}

func (r *RemoteResource) VisibleTo(roleId string) bool {
	if v, ok := r.RoleVisibility[roleId]; ok {
		return v
	}
	return true
}

// AllowedRoleIds lists the roles with an explicit allow overwrite, excluding
// the guild-wide role which is handled as visibility.
func (r *RemoteResource) AllowedRoleIds(everyoneRoleId string) []string {
	var ids []string
	for roleId, visible := range r.RoleVisibility {
		if roleId == everyoneRoleId {
			continue
		}
		if visible {
			ids = append(ids, roleId)
		}
	}
	return ids
}

// RemoteClient is the black-box collaborator for the chat platform. Every
// call may fail with a RemoteError of any kind.
type RemoteClient interface {
	CreateCategoryResource(ctx context.Context, name string) (string, error)
	CreateVoiceResource(ctx context.Context, name string, parentId string) (string, error)
	RenameResource(ctx context.Context, resourceId string, name string) error
	SetVisibility(ctx context.Context, resourceId string, roleId string, visible bool) error
	SetRoleOverwrite(ctx context.Context, resourceId string, roleId string, visible bool) error
	DeleteResource(ctx context.Context, resourceId string, reason string) error
	FetchResource(ctx context.Context, resourceId string) (*RemoteResource, error)
}
