package servicewf

import (
	"testing"

	"github.com/quay/provisioncore/repoworkflow"
)

func TestReconcileAddsDeletesAndKeeps(t *testing.T) {
	existing := []ExistingRepo{
		{Info: repoworkflow.Info{Alias: "stale"}, Enabled: true},
		{Info: repoworkflow.Info{Alias: "kept", MirrorListURL: "old"}, Enabled: true},
	}
	collected := Index{
		Repos: []repoworkflow.Info{
			{Alias: "kept", MirrorListURL: "new"},
			{Alias: "fresh"},
		},
		EnableRequests: map[string]bool{"fresh": false},
	}

	r := Reconcile(existing, collected, "", ModeRIS)

	if len(r.Delete) != 1 || r.Delete[0].Info.Alias != "stale" {
		t.Fatalf("expected stale repo to be deleted, got %+v", r.Delete)
	}
	if len(r.Add) != 1 || r.Add[0].Info.Alias != "fresh" || r.Add[0].Enabled {
		t.Fatalf("expected fresh repo added disabled, got %+v", r.Add)
	}
	if len(r.Keep) != 1 || r.Keep[0].Info.MirrorListURL != "new" {
		t.Fatalf("expected kept repo attributes to be updated, got %+v", r.Keep)
	}
	if !r.Changed {
		t.Fatal("expected Changed to be true")
	}
}

func TestReconcileNoChanges(t *testing.T) {
	existing := []ExistingRepo{{Info: repoworkflow.Info{Alias: "stable"}, Enabled: true}}
	collected := Index{Repos: []repoworkflow.Info{{Alias: "stable"}}}

	r := Reconcile(existing, collected, "", ModeRIS)
	if r.Changed {
		t.Fatal("expected no changes when nothing differs")
	}
	if len(r.Keep) != 1 || len(r.Add) != 0 || len(r.Delete) != 0 {
		t.Fatalf("unexpected reconciliation result: %+v", r)
	}
}

func TestReconcileGpgCheckOnlyUpdatesOnPluginMode(t *testing.T) {
	existing := []ExistingRepo{
		{Info: repoworkflow.Info{Alias: "r", RepoGpgCheck: repoworkflow.GpgOff}, Enabled: true},
	}
	collected := Index{
		Repos: []repoworkflow.Info{{Alias: "r", RepoGpgCheck: repoworkflow.GpgMandatory}},
	}

	risResult := Reconcile(existing, collected, "", ModeRIS)
	if risResult.Changed {
		t.Fatalf("expected RIS-mode refresh to leave repo-gpg-check untouched, got %+v", risResult)
	}
	if len(risResult.Keep) != 1 || risResult.Keep[0].Info.RepoGpgCheck != repoworkflow.GpgOff {
		t.Fatalf("expected repo-gpg-check to survive unchanged under RIS mode, got %+v", risResult.Keep)
	}

	pluginResult := Reconcile(existing, collected, "", ModePlugin)
	if !pluginResult.Changed {
		t.Fatal("expected plugin-mode refresh to pick up the new repo-gpg-check value")
	}
	if len(pluginResult.Keep) != 1 || pluginResult.Keep[0].Info.RepoGpgCheck != repoworkflow.GpgMandatory {
		t.Fatalf("expected repo-gpg-check to be updated under plugin mode, got %+v", pluginResult.Keep)
	}
}
