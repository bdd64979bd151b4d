package flatpak

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTxn struct {
	related []Ref
	aborted bool
}

func (t *fakeTxn) Enumerate(ctx context.Context) ([]Ref, error) { return t.related, nil }
func (t *fakeTxn) Abort(ctx context.Context)                    { t.aborted = true }

type fakeInstallation struct {
	installed map[Ref]bool
	remotes   []RemoteInfo
	related   map[Ref][]Ref
	txns      []*fakeTxn
}

func (f *fakeInstallation) IsInstalled(r Ref) bool { return f.installed[r] }
func (f *fakeInstallation) Remotes() []RemoteInfo  { return f.remotes }
func (f *fakeInstallation) DryRun(ctx context.Context, a Action) (Transaction, error) {
	txn := &fakeTxn{related: f.related[a.Ref.Ref]}
	f.txns = append(f.txns, txn)
	return txn, nil
}

func TestAugmentAddsDependencyBeforeInstall(t *testing.T) {
	runtime := ref("org.runtime")
	app := ref("org.App")
	inst := &fakeInstallation{
		installed: map[Ref]bool{},
		remotes:   []RemoteInfo{{Name: "eos"}},
		related:   map[Ref][]Ref{app: {runtime}},
	}
	actions := []Action{action(Install, "org.App", 1, "f.json")}
	actions[0].Ref.Ref = app

	out := Augment(context.Background(), inst, actions)
	require.Len(t, out, 2)
	assert.True(t, out[0].Flags.IsDependency())
	assert.Equal(t, runtime, out[0].Ref.Ref)
	assert.False(t, out[1].Flags.IsDependency())
	assert.Equal(t, app, out[1].Ref.Ref)
	assert.True(t, inst.txns[0].aborted)
}

func TestAugmentInstallOnInstalledBecomesUpdate(t *testing.T) {
	app := ref("org.App")
	inst := &fakeInstallation{
		installed: map[Ref]bool{app: true},
		remotes:   []RemoteInfo{{Name: "eos"}},
		related:   map[Ref][]Ref{},
	}
	actions := []Action{{Kind: Install, Ref: LocationRef{Ref: app}, SourceFile: "f.json", Serial: 1}}
	out := Augment(context.Background(), inst, actions)
	require.Len(t, out, 1)
	assert.Equal(t, Update, out[0].Kind)
}

func TestAugmentUninstallOnNotInstalledDropped(t *testing.T) {
	app := ref("org.App")
	inst := &fakeInstallation{
		installed: map[Ref]bool{},
		remotes:   []RemoteInfo{{Name: "eos"}},
	}
	actions := []Action{{Kind: Uninstall, Ref: LocationRef{Ref: app}, SourceFile: "f.json", Serial: 1}}
	out := Augment(context.Background(), inst, actions)
	assert.Empty(t, out)
}

func TestAugmentSkipsDisabledRemoteForDependency(t *testing.T) {
	runtime := ref("org.runtime")
	app := ref("org.App")
	inst := &fakeInstallation{
		installed: map[Ref]bool{app: true}, // already installed -> treated as update, not dropped
		remotes:   []RemoteInfo{{Name: "disabled", Disabled: true}},
		related:   map[Ref][]Ref{app: {runtime}},
	}
	actions := []Action{{Kind: Install, Ref: LocationRef{Ref: app}, SourceFile: "f.json", Serial: 1}}
	out := Augment(context.Background(), inst, actions)
	require.Len(t, out, 1)
	assert.Equal(t, app, out[0].Ref.Ref)
}
