package guildsync

import (
	"testing"
)

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func TestCategoryDeleteTakesPrecedence(t *testing.T) {
	desired := DesiredCategory{
		Id:            7,
		Name:          "renamed while deleted",
		Visible:       false,
		RemoteId:      "chan-7",
		RemoteDeleted: true,
	}
	remote := &RemoteResource{Id: "chan-7", Name: "old name"}

	list := ComputeCategoryMutations(desired, remote, "guild-1")
	if len(list.Mutations) != 1 {
		t.Fatalf("expected exactly 1 mutation, got %d", len(list.Mutations))
	}
	if list.Mutations[0].Kind != MutationDelete {
		t.Fatalf("expected delete, got %s", list.Mutations[0].Kind)
	}
}

func TestCategoryDeleteWithoutRemoteIdResolvesDeleted(t *testing.T) {
	desired := DesiredCategory{Id: 7, Name: "x", RemoteDeleted: true}
	list := ComputeCategoryMutations(desired, nil, "guild-1")
	if len(list.Mutations) != 0 {
		t.Fatalf("nothing remote to delete, got %+v", list.Mutations)
	}
	if !list.NotFound {
		t.Fatal("delete with no remote id is an achieved deletion, not a no-op")
	}
}

func TestCategoryCreateEmitsInitialState(t *testing.T) {
	desired := DesiredCategory{
		Id:             3,
		Name:           "lounge",
		Visible:        false,
		AllowedRoleIds: []string{"role-a", "role-b"},
	}
	list := ComputeCategoryMutations(desired, nil, "guild-1")
	if list.NotFound {
		t.Fatal("create path must not report not-found")
	}
	if len(list.Mutations) != 3 {
		t.Fatalf("expected create + visibility + overwrites, got %d mutations", len(list.Mutations))
	}
	if list.Mutations[0].Kind != MutationCreate || list.Mutations[0].Name != "lounge" {
		t.Fatalf("unexpected first mutation: %+v", list.Mutations[0])
	}
	if list.Mutations[1].Kind != MutationSetVisibility || list.Mutations[1].Visible {
		t.Fatalf("unexpected visibility mutation: %+v", list.Mutations[1])
	}
	if list.Mutations[2].Kind != MutationSetRoleOverwrites {
		t.Fatalf("unexpected third mutation: %+v", list.Mutations[2])
	}
	if !list.Mutations[2].Overwrites["role-a"] || !list.Mutations[2].Overwrites["role-b"] {
		t.Fatalf("expected allow overwrites for both roles, got %+v", list.Mutations[2].Overwrites)
	}
}

func TestCategoryNoDiffProducesNoMutations(t *testing.T) {
	desired := DesiredCategory{
		Id:             4,
		Name:           "general",
		Visible:        true,
		AllowedRoleIds: []string{"role-a"},
		RemoteId:       "chan-4",
	}
	remote := &RemoteResource{
		Id:             "chan-4",
		Name:           "general",
		RoleVisibility: map[string]bool{"role-a": true},
	}
	list := ComputeCategoryMutations(desired, remote, "guild-1")
	if !list.Empty() {
		t.Fatalf("expected no diff, got %+v", list.Mutations)
	}
}

func TestCategoryRemoteNotFoundIsDistinctFromNoDiff(t *testing.T) {
	desired := DesiredCategory{Id: 4, Name: "general", Visible: true, RemoteId: "chan-4"}
	list := ComputeCategoryMutations(desired, nil, "guild-1")
	if !list.NotFound {
		t.Fatal("expected NotFound for vanished remote resource")
	}
	if len(list.Mutations) != 0 {
		t.Fatalf("not-found must carry no mutations, got %d", len(list.Mutations))
	}
	if list.Empty() {
		t.Fatal("a not-found list must not be considered empty")
	}
}

func TestRoleOverwriteDiffIsSetBased(t *testing.T) {
	// Same set, different order and a duplicate: no diff.
	if ow := roleOverwriteDiff([]string{"b", "a", "a"}, []string{"a", "b"}); ow != nil {
		t.Fatalf("expected nil overwrite diff, got %+v", ow)
	}

	ow := roleOverwriteDiff([]string{"a", "c"}, []string{"a", "b"})
	if len(ow) != 2 {
		t.Fatalf("expected 2 overwrites, got %+v", ow)
	}
	if !ow["c"] {
		t.Fatal("added role must get an allow overwrite")
	}
	if v, present := ow["b"]; !present || v {
		t.Fatal("removed role must get a deny overwrite")
	}
	if _, present := ow["a"]; present {
		t.Fatal("unchanged roles must not produce an overwrite call")
	}
}

func TestCategoryDiffFromPriorSnapshot(t *testing.T) {
	desired := DesiredCategory{
		Id:             9,
		Name:           "after",
		Visible:        true,
		AllowedRoleIds: []string{"role-a"},
		RemoteId:       "chan-9",
	}
	prior := CategoryRow{
		Id:             9,
		Name:           strptr("before"),
		IsVisible:      boolptr(true),
		AllowedRoleIds: []string{"role-a"},
	}
	list := ComputeCategoryMutationsFromPrior(desired, prior, "guild-1")
	if len(list.Mutations) != 1 {
		t.Fatalf("expected rename only, got %+v", list.Mutations)
	}
	if list.Mutations[0].Kind != MutationRename || list.Mutations[0].Name != "after" {
		t.Fatalf("unexpected mutation: %+v", list.Mutations[0])
	}
}

func TestZoneParentDriftIsReportedNotHealed(t *testing.T) {
	desired := DesiredZone{
		Id:             12,
		Name:           "voice-1",
		RemoteId:       "vc-12",
		ParentRemoteId: "chan-4",
	}
	remote := &RemoteResource{Id: "vc-12", Name: "voice-1", ParentId: "chan-other"}

	list := ComputeZoneMutations(desired, remote)
	if len(list.Mutations) != 0 {
		t.Fatalf("parent drift must not produce mutations, got %+v", list.Mutations)
	}
	if len(list.Inconsistencies) != 1 {
		t.Fatalf("expected one inconsistency, got %+v", list.Inconsistencies)
	}
}

func TestZoneCreateCarriesParent(t *testing.T) {
	desired := DesiredZone{Id: 12, Name: "voice-1", ParentRemoteId: "chan-4"}
	list := ComputeZoneMutations(desired, nil)
	if len(list.Mutations) != 1 || list.Mutations[0].Kind != MutationCreate {
		t.Fatalf("expected create, got %+v", list.Mutations)
	}
	if list.Mutations[0].ParentId != "chan-4" {
		t.Fatalf("expected parent chan-4, got %q", list.Mutations[0].ParentId)
	}
}
