package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"module-host/logger"
	"module-host/metrics"
	"module-host/models"
)

type mockRegistryRepo struct {
	bindings   []*models.Binding
	modules    []*models.ModuleEntry
	commits    int
	commitErr  error
	stagedPuts int
}

func (m *mockRegistryRepo) LoadBindings() ([]*models.Binding, error) { return m.bindings, nil }
func (m *mockRegistryRepo) LoadModules() ([]*models.ModuleEntry, error) {
	return m.modules, nil
}
func (m *mockRegistryRepo) StageBinding(b *models.Binding, batch *leveldb.Batch) error {
	m.stagedPuts++
	return nil
}
func (m *mockRegistryRepo) StageBindingDelete(identifier string, batch *leveldb.Batch) {}
func (m *mockRegistryRepo) StageModule(e *models.ModuleEntry, batch *leveldb.Batch) error {
	m.stagedPuts++
	return nil
}
func (m *mockRegistryRepo) StageModuleDelete(module string, batch *leveldb.Batch) {}
func (m *mockRegistryRepo) Commit(batch *leveldb.Batch) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	return nil
}

type mockCodeTable map[string]bool

func (m mockCodeTable) HasCode(module string) bool { return m[module] }

type mockInitRunner struct {
	calls   int
	applied int
	err     error
	// resolve captured from the last run, so tests can assert the
	// initializer sees the staged table.
	lastResolve func(string) (string, bool)
}

func (m *mockInitRunner) RunInitializer(target string, payload json.RawMessage, resolve func(string) (string, bool), batch *leveldb.Batch) (func(), error) {
	m.calls++
	m.lastResolve = resolve
	if m.err != nil {
		return nil, m.err
	}
	return func() { m.applied++ }, nil
}

type RegistrySuite struct {
	suite.Suite
	repo *mockRegistryRepo
	code mockCodeTable
	init *mockInitRunner
	svc  *Service
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	logger.Logger = zap.NewNop()
	s.repo = &mockRegistryRepo{}
	s.code = mockCodeTable{"mod1": true, "mod2": true}
	s.init = &mockInitRunner{}

	var err error
	s.svc, err = NewService(s.repo, s.code, s.init, &sync.Mutex{}, metrics.NewWith(prometheus.NewRegistry()))
	s.Require().NoError(err)
}

func (s *RegistrySuite) mutate(ops ...models.RegistryOp) error {
	_, err := s.svc.Mutate(models.MutateRequest{Operations: ops})
	return err
}

func add(module string, ids ...string) models.RegistryOp {
	return models.RegistryOp{Module: module, Action: models.ActionAdd, Identifiers: ids}
}

func replace(module string, ids ...string) models.RegistryOp {
	return models.RegistryOp{Module: module, Action: models.ActionReplace, Identifiers: ids}
}

func remove(ids ...string) models.RegistryOp {
	return models.RegistryOp{Module: models.NoModule, Action: models.ActionRemove, Identifiers: ids}
}

func (s *RegistrySuite) TestAddAndResolve() {
	s.Require().NoError(s.mutate(add("mod1", "a", "b")))

	module, ok := s.svc.Resolve("a")
	s.True(ok)
	s.Equal("mod1", module)
	s.Equal([]string{"a", "b"}, s.svc.ListIdentifiers("mod1"))
	s.Equal([]string{"mod1"}, s.svc.ListModules())
	s.Equal(1, s.repo.commits)
}

func (s *RegistrySuite) TestAddBoundIdentifierFailsAndLeavesRegistryUnchanged() {
	s.Require().NoError(s.mutate(add("mod1", "a")))

	err := s.mutate(add("mod2", "a", "b"))
	s.Require().ErrorIs(err, models.ErrConflict)

	module, ok := s.svc.Resolve("a")
	s.True(ok)
	s.Equal("mod1", module)
	_, ok = s.svc.Resolve("b")
	s.False(ok)
	s.Equal([]string{"mod1"}, s.svc.ListModules())
}

func (s *RegistrySuite) TestPreconditions() {
	s.Run("empty identifier list", func() {
		s.ErrorIs(s.mutate(add("mod1")), models.ErrPrecondition)
	})
	s.Run("zero module", func() {
		s.ErrorIs(s.mutate(add(models.NoModule, "a")), models.ErrPrecondition)
	})
	s.Run("module without code", func() {
		s.ErrorIs(s.mutate(add("ghost", "a")), models.ErrPrecondition)
	})
	s.Run("empty mutation", func() {
		s.ErrorIs(s.mutate(), models.ErrPrecondition)
	})
	s.Run("unknown action", func() {
		err := s.mutate(models.RegistryOp{Module: "mod1", Action: "upsert", Identifiers: []string{"a"}})
		s.ErrorIs(err, models.ErrPrecondition)
	})
}

func (s *RegistrySuite) TestRemoveRequiresSentinel() {
	s.Require().NoError(s.mutate(add("mod1", "a")))

	err := s.mutate(models.RegistryOp{Module: "mod1", Action: models.ActionRemove, Identifiers: []string{"a"}})
	s.Require().ErrorIs(err, models.ErrPrecondition)

	_, ok := s.svc.Resolve("a")
	s.True(ok)
}

func (s *RegistrySuite) TestRemoveUnboundConflicts() {
	s.ErrorIs(s.mutate(remove("missing")), models.ErrConflict)
}

func (s *RegistrySuite) TestSwapRemoveKeepsPositionsDense() {
	s.Require().NoError(s.mutate(add("mod1", "a", "b", "c", "d")))

	// Removing b moves d into its slot.
	s.Require().NoError(s.mutate(remove("b")))
	s.Equal([]string{"a", "d", "c"}, s.svc.ListIdentifiers("mod1"))

	// Removing the last element truncates without a move.
	s.Require().NoError(s.mutate(remove("c")))
	s.Equal([]string{"a", "d"}, s.svc.ListIdentifiers("mod1"))

	// Emptying the module drops it from the module list.
	s.Require().NoError(s.mutate(remove("a", "d")))
	s.Empty(s.svc.ListIdentifiers("mod1"))
	s.Empty(s.svc.ListModules())
}

func (s *RegistrySuite) TestReplace() {
	s.Require().NoError(s.mutate(add("mod1", "a", "b")))

	s.Require().NoError(s.mutate(replace("mod2", "a")))

	module, ok := s.svc.Resolve("a")
	s.True(ok)
	s.Equal("mod2", module)
	s.Equal([]string{"b"}, s.svc.ListIdentifiers("mod1"))
	s.Equal([]string{"a"}, s.svc.ListIdentifiers("mod2"))
}

func (s *RegistrySuite) TestReplaceConflicts() {
	s.Require().NoError(s.mutate(add("mod1", "a")))

	s.Run("unbound identifier", func() {
		s.ErrorIs(s.mutate(replace("mod2", "x")), models.ErrConflict)
	})
	s.Run("already bound to target", func() {
		s.ErrorIs(s.mutate(replace("mod1", "a")), models.ErrConflict)
	})
}

func (s *RegistrySuite) TestBatchIsAllOrNothing() {
	// The second operation conflicts with the first one's staged binding;
	// nothing from the batch may survive.
	err := s.mutate(add("mod1", "a"), add("mod2", "a"))
	s.Require().ErrorIs(err, models.ErrConflict)

	_, ok := s.svc.Resolve("a")
	s.False(ok)
	s.Empty(s.svc.ListModules())
	s.Equal(0, s.repo.commits)
}

func (s *RegistrySuite) TestOperationsApplyInOrder() {
	// Add then remove of the same identifier within one batch nets out.
	s.Require().NoError(s.mutate(add("mod1", "a"), remove("a")))
	_, ok := s.svc.Resolve("a")
	s.False(ok)
	s.Empty(s.svc.ListModules())
}

func (s *RegistrySuite) TestInitializerPayloadWithoutTarget() {
	_, err := s.svc.Mutate(models.MutateRequest{
		Operations:  []models.RegistryOp{add("mod1", "a")},
		InitPayload: json.RawMessage(`{}`),
	})
	s.Require().ErrorIs(err, models.ErrPrecondition)
	s.Zero(s.init.calls)
}

func (s *RegistrySuite) TestInitializerTargetNeedsCode() {
	_, err := s.svc.Mutate(models.MutateRequest{
		Operations: []models.RegistryOp{add("mod1", "a")},
		InitTarget: "ghost",
	})
	s.ErrorIs(err, models.ErrPrecondition)
}

func (s *RegistrySuite) TestInitializerSeesStagedTableAndApplies() {
	_, err := s.svc.Mutate(models.MutateRequest{
		Operations: []models.RegistryOp{add("mod1", "a")},
		InitTarget: "mod1",
	})
	s.Require().NoError(err)
	s.Equal(1, s.init.calls)
	s.Equal(1, s.init.applied)

	module, ok := s.init.lastResolve("a")
	s.True(ok)
	s.Equal("mod1", module)
}

func (s *RegistrySuite) TestFailingInitializerAbortsWholeBatch() {
	s.init.err = errors.New("init exploded")

	_, err := s.svc.Mutate(models.MutateRequest{
		Operations: []models.RegistryOp{add("mod1", "a")},
		InitTarget: "mod1",
	})
	s.Require().EqualError(err, "init exploded")

	_, ok := s.svc.Resolve("a")
	s.False(ok)
	s.Zero(s.init.applied)
	s.Equal(0, s.repo.commits)
}

func (s *RegistrySuite) TestCommitFailureLeavesTableUntouched() {
	s.repo.commitErr = errors.New("disk full")

	err := s.mutate(add("mod1", "a"))
	s.Require().EqualError(err, "disk full")
	_, ok := s.svc.Resolve("a")
	s.False(ok)
}

func (s *RegistrySuite) TestLoadRebuildsTables() {
	s.repo.bindings = []*models.Binding{
		{Identifier: "a", Module: "mod1", Position: 0},
		{Identifier: "b", Module: "mod1", Position: 1},
	}
	s.repo.modules = []*models.ModuleEntry{
		{Module: "mod1", Identifiers: []string{"a", "b"}},
	}

	svc, err := NewService(s.repo, s.code, s.init, &sync.Mutex{}, metrics.NewWith(prometheus.NewRegistry()))
	s.Require().NoError(err)

	module, ok := svc.Resolve("b")
	s.True(ok)
	s.Equal("mod1", module)
	s.Equal([]string{"a", "b"}, svc.ListIdentifiers("mod1"))
	s.Equal([]string{"mod1"}, svc.ListModules())
}
