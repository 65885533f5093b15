package guildsync

import (
	"strconv"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
)

type MutationKind string

const (
	MutationCreate            MutationKind = "create"
	MutationRename            MutationKind = "rename"
	MutationSetVisibility     MutationKind = "set_visibility"
	MutationSetRoleOverwrites MutationKind = "set_role_overwrites"
	MutationDelete            MutationKind = "delete"
)

type Mutation struct {
	Kind       MutationKind
	Name       string
	ParentId   string
	RoleId     string
	Visible    bool
	Overwrites map[string]bool
	Reason     string
}

// MutationList is the ordered minimal mutation set for one entity. NotFound
// means no live remote resource backs the entity, either because the fetch
// reported not-found or because a deletion was requested with no remote id
// on record; both are a distinct outcome from "no diff".
type MutationList struct {
	EntityId        string
	EntityType      models.SyncEntityType
	GuildId         string
	RemoteId        string
	NotFound        bool
	Inconsistencies []string
	Mutations       []Mutation
}

func (l MutationList) Empty() bool {
	return !l.NotFound && len(l.Mutations) == 0
}

// DesiredCategory is the category's desired state, fully resolved from the
// relational row (typed columns first, settings blob fallback).
type DesiredCategory struct {
	Id             int
	GuildId        string
	Name           string
	Visible        bool
	AllowedRoleIds []string
	RemoteId       string
	RemoteDeleted  bool
}

func DesiredFromCategory(c *models.Category) DesiredCategory {
	d := DesiredCategory{
		Id:             c.ID,
		GuildId:        c.GuildId,
		Name:           c.Name,
		Visible:        c.EffectiveVisible(),
		AllowedRoleIds: c.EffectiveAllowedRoleIds(),
		RemoteDeleted:  c.RemoteDeleted,
	}
	if c.RemoteId != nil {
		d.RemoteId = *c.RemoteId
	}
	return d
}

type DesiredZone struct {
	Id             int
	CategoryId     int
	Name           string
	RemoteId       string
	ParentRemoteId string
}

func DesiredFromZone(z *models.Zone, parentRemoteId string) DesiredZone {
	d := DesiredZone{
		Id:             z.ID,
		CategoryId:     z.CategoryId,
		Name:           z.EffectiveDisplayName(),
		ParentRemoteId: parentRemoteId,
	}
	if z.RemoteId != nil {
		d.RemoteId = *z.RemoteId
	}
	return d
}

// ComputeCategoryMutations diffs desired state against observed remote
// state. Deletion takes precedence over every other mutation; creation
// emits the full initial state in order. Pass remote==nil when the fetch
// reported not-found.
func ComputeCategoryMutations(desired DesiredCategory, remote *RemoteResource, everyoneRoleId string) MutationList {
	list := MutationList{
		EntityId:   strconv.Itoa(desired.Id),
		EntityType: models.SyncEntityCategory,
		GuildId:    desired.GuildId,
		RemoteId:   desired.RemoteId,
	}

	if desired.RemoteDeleted {
		if desired.RemoteId == "" {
			list.NotFound = true
			return list
		}
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationDelete, Reason: "category removed locally"})
		return list
	}

	if desired.RemoteId == "" {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationCreate, Name: desired.Name})
		if !desired.Visible {
			list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetVisibility, RoleId: everyoneRoleId, Visible: false})
		}
		if len(desired.AllowedRoleIds) > 0 {
			list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetRoleOverwrites, Overwrites: allowAll(desired.AllowedRoleIds)})
		}
		return list
	}

	if remote == nil {
		list.NotFound = true
		return list
	}

	if desired.Name != remote.Name {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationRename, Name: desired.Name})
	}
	if desired.Visible != remote.VisibleTo(everyoneRoleId) {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetVisibility, RoleId: everyoneRoleId, Visible: desired.Visible})
	}
	if ow := roleOverwriteDiff(desired.AllowedRoleIds, remote.AllowedRoleIds(everyoneRoleId)); len(ow) > 0 {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetRoleOverwrites, Overwrites: ow})
	}
	return list
}

// ComputeCategoryMutationsFromPrior diffs desired state against a complete
// prior snapshot, avoiding a remote fetch. Callers must only use this when
// the prior carries every field being compared; a key-only prior must go
// through the live-remote path instead.
func ComputeCategoryMutationsFromPrior(desired DesiredCategory, prior CategoryRow, everyoneRoleId string) MutationList {
	list := MutationList{
		EntityId:   strconv.Itoa(desired.Id),
		EntityType: models.SyncEntityCategory,
		GuildId:    desired.GuildId,
		RemoteId:   desired.RemoteId,
	}

	if desired.RemoteDeleted {
		if desired.RemoteId == "" {
			list.NotFound = true
			return list
		}
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationDelete, Reason: "category removed locally"})
		return list
	}
	if desired.RemoteId == "" {
		return ComputeCategoryMutations(desired, nil, everyoneRoleId)
	}

	if prior.Name != nil && desired.Name != *prior.Name {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationRename, Name: desired.Name})
	}
	if prior.IsVisible != nil && desired.Visible != *prior.IsVisible {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetVisibility, RoleId: everyoneRoleId, Visible: desired.Visible})
	}
	if !sameRoleSet(desired.AllowedRoleIds, prior.AllowedRoleIds) {
		if ow := roleOverwriteDiff(desired.AllowedRoleIds, prior.AllowedRoleIds); len(ow) > 0 {
			list.Mutations = append(list.Mutations, Mutation{Kind: MutationSetRoleOverwrites, Overwrites: ow})
		}
	}
	return list
}

// ComputeZoneMutations diffs a zone against its remote voice resource. A
// remote parent differing from the category's remote id is reported as an
// inconsistency, not auto-healed.
func ComputeZoneMutations(desired DesiredZone, remote *RemoteResource) MutationList {
	list := MutationList{
		EntityId:   strconv.Itoa(desired.Id),
		EntityType: models.SyncEntityZone,
		RemoteId:   desired.RemoteId,
	}

	if desired.RemoteId == "" {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationCreate, Name: desired.Name, ParentId: desired.ParentRemoteId})
		return list
	}

	if remote == nil {
		list.NotFound = true
		return list
	}

	if desired.Name != remote.Name {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationRename, Name: desired.Name})
	}
	if desired.ParentRemoteId != "" && remote.ParentId != "" && remote.ParentId != desired.ParentRemoteId {
		list.Inconsistencies = append(list.Inconsistencies,
			"remote parent "+remote.ParentId+" does not match category remote id "+desired.ParentRemoteId)
	}
	return list
}

// ZoneDeleteMutations builds the deletion list for a zone whose local row is
// gone (or flagged); the remote id has already been recovered by the caller.
func ZoneDeleteMutations(zoneId int, remoteId string) MutationList {
	list := MutationList{
		EntityId:   strconv.Itoa(zoneId),
		EntityType: models.SyncEntityZone,
		RemoteId:   remoteId,
	}
	if remoteId != "" {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationDelete, Reason: "zone removed locally"})
	}
	return list
}

func CategoryDeleteMutations(categoryId int, remoteId string, guildId string) MutationList {
	list := MutationList{
		EntityId:   strconv.Itoa(categoryId),
		EntityType: models.SyncEntityCategory,
		GuildId:    guildId,
		RemoteId:   remoteId,
	}
	if remoteId != "" {
		list.Mutations = append(list.Mutations, Mutation{Kind: MutationDelete, Reason: "category removed locally"})
	}
	return list
}

// sameRoleSet compares role id lists as sets; order and duplicates are
// irrelevant.
func sameRoleSet(a []string, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
		other[id] = struct{}{}
	}
	return len(seen) == len(other)
}

// roleOverwriteDiff returns the overwrite map that moves the observed role
// set to the desired one: added roles allow, removed roles deny. Roles
// present in both sets are already correct and cost no remote call. Nil
// when the sets match.
func roleOverwriteDiff(desired []string, observed []string) map[string]bool {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	have := make(map[string]struct{}, len(observed))
	for _, id := range observed {
		have[id] = struct{}{}
	}
	ow := map[string]bool{}
	for id := range want {
		if _, ok := have[id]; !ok {
			ow[id] = true
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			ow[id] = false
		}
	}
	if len(ow) == 0 {
		return nil
	}
	return ow
}

func allowAll(roleIds []string) map[string]bool {
	ow := make(map[string]bool, len(roleIds))
	for _, id := range roleIds {
		ow[id] = true
	}
	return ow
}
