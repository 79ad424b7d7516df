package balances

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"module-host/db"
	"module-host/dispatch"
	"module-host/ledger"
	"module-host/logger"
	"module-host/metrics"
	"module-host/models"
	"module-host/repository"
	"module-host/state"
)

type boundResolver struct{}

func (boundResolver) Resolve(identifier string) (string, bool) {
	for _, id := range Identifiers {
		if id == identifier {
			return ModuleName, true
		}
	}
	return "", false
}

type BalancesSuite struct {
	suite.Suite
	ldb    *db.LevelDB
	store  *state.Store
	ledger *ledger.Ledger
	disp   *dispatch.Dispatcher
	hostMu *sync.Mutex
}

func TestBalancesSuite(t *testing.T) {
	suite.Run(t, new(BalancesSuite))
}

func (s *BalancesSuite) SetupTest() {
	logger.Logger = zap.NewNop()

	var err error
	s.ldb, err = db.NewLevelDB(s.T().TempDir())
	s.Require().NoError(err)

	s.hostMu = &sync.Mutex{}
	met := metrics.NewWith(prometheus.NewRegistry())
	s.store, err = state.NewStore(s.ldb)
	s.Require().NoError(err)
	s.ledger, err = ledger.NewLedger(repository.NewLedgerRepository(s.ldb), s.hostMu, met)
	s.Require().NoError(err)

	s.disp = dispatch.NewDispatcher(s.ldb, s.store, s.ledger, s.hostMu, met)
	s.Require().NoError(s.disp.Register(New()))
	s.disp.SetResolver(boundResolver{})
}

func (s *BalancesSuite) TearDownTest() {
	s.ldb.Close()
}

func (s *BalancesSuite) dispatch(caller, identifier, payload string) (json.RawMessage, error) {
	return s.disp.Dispatch(caller, identifier, json.RawMessage(payload))
}

func (s *BalancesSuite) mint(to string, amount uint64) {
	_, err := s.dispatch(to, MintID, fmt.Sprintf(`{"to":%q,"amount":%d}`, to, amount))
	s.Require().NoError(err)
}

func (s *BalancesSuite) TestMint() {
	out, err := s.dispatch("alice", MintID, `{"to":"alice","amount":100}`)
	s.Require().NoError(err)
	s.JSONEq(`{"account":"alice","balance":100}`, string(out))

	s.Equal(uint64(100), Balance(s.store, "alice"))
	s.Equal(uint64(100), s.ledger.CurrentWeight("alice"))
}

func (s *BalancesSuite) TestMintNeedsDestination() {
	_, err := s.dispatch("alice", MintID, `{"amount":100}`)
	s.ErrorIs(err, models.ErrPrecondition)
}

func (s *BalancesSuite) TestTransfer() {
	s.mint("alice", 100)

	out, err := s.dispatch("alice", TransferID, `{"to":"bob","amount":30}`)
	s.Require().NoError(err)
	s.JSONEq(`{"account":"alice","balance":70}`, string(out))

	s.Equal(uint64(70), Balance(s.store, "alice"))
	s.Equal(uint64(30), Balance(s.store, "bob"))
	s.Equal(uint64(70), s.ledger.CurrentWeight("alice"))
	s.Equal(uint64(30), s.ledger.CurrentWeight("bob"))
}

func (s *BalancesSuite) TestTransferImpersonation() {
	s.mint("alice", 100)

	_, err := s.dispatch("mallory", TransferID, `{"from":"alice","to":"mallory","amount":100}`)
	s.Require().ErrorIs(err, models.ErrAuthorization)
	s.Equal(uint64(100), Balance(s.store, "alice"))
}

func (s *BalancesSuite) TestTransferInsufficientBalance() {
	s.mint("alice", 10)

	_, err := s.dispatch("alice", TransferID, `{"to":"bob","amount":50}`)
	s.Require().ErrorIs(err, models.ErrPrecondition)
	s.Equal(uint64(10), Balance(s.store, "alice"))
	s.Zero(Balance(s.store, "bob"))
}

func (s *BalancesSuite) TestTransferNeedsDestination() {
	s.mint("alice", 10)

	_, err := s.dispatch("alice", TransferID, `{"amount":5}`)
	s.ErrorIs(err, models.ErrPrecondition)
}

func (s *BalancesSuite) TestBurn() {
	s.mint("alice", 100)

	out, err := s.dispatch("alice", BurnID, `{"amount":40}`)
	s.Require().NoError(err)
	s.JSONEq(`{"account":"alice","balance":60}`, string(out))
	s.Equal(uint64(60), s.ledger.CurrentWeight("alice"))
}

func (s *BalancesSuite) TestBurnMoreThanBalance() {
	s.mint("alice", 10)

	_, err := s.dispatch("alice", BurnID, `{"amount":11}`)
	s.ErrorIs(err, models.ErrPrecondition)
}

func (s *BalancesSuite) TestBalanceOfDefaultsToCaller() {
	s.mint("alice", 25)

	out, err := s.dispatch("alice", BalanceOfID, `{}`)
	s.Require().NoError(err)
	s.JSONEq(`{"account":"alice","balance":25}`, string(out))

	out, err = s.dispatch("bob", BalanceOfID, `{"account":"alice"}`)
	s.Require().NoError(err)
	s.JSONEq(`{"account":"alice","balance":25}`, string(out))
}

func (s *BalancesSuite) TestTransferToDelegatedAccountMovesWeightToRepresentative() {
	s.mint("alice", 100)
	_, err := s.ledger.Delegate("bob", "carol", func() uint64 { return 0 })
	s.Require().NoError(err)

	_, err = s.dispatch("alice", TransferID, `{"to":"bob","amount":40}`)
	s.Require().NoError(err)

	// bob holds the tokens, carol holds the voting weight.
	s.Equal(uint64(40), Balance(s.store, "bob"))
	s.Zero(s.ledger.CurrentWeight("bob"))
	s.Equal(uint64(40), s.ledger.CurrentWeight("carol"))
	s.Equal(uint64(60), s.ledger.CurrentWeight("alice"))
}

func (s *BalancesSuite) TestInitSeedsBalances() {
	s.hostMu.Lock()
	batch := new(leveldb.Batch)
	apply, err := s.disp.RunInitializer(ModuleName, json.RawMessage(`{"balances":{"alice":100,"bob":50}}`), nil, batch)
	s.Require().NoError(err)
	s.Require().NoError(s.ldb.Write(batch))
	apply()
	s.hostMu.Unlock()

	s.Equal(uint64(100), Balance(s.store, "alice"))
	s.Equal(uint64(50), Balance(s.store, "bob"))
	s.Equal(uint64(100), s.ledger.CurrentWeight("alice"))
	s.Equal(uint64(50), s.ledger.CurrentWeight("bob"))
}

func (s *BalancesSuite) TestInitRejectsMalformedPayload() {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	_, err := s.disp.RunInitializer(ModuleName, json.RawMessage(`{"balances":"nope"}`), nil, new(leveldb.Batch))
	s.ErrorIs(err, models.ErrPrecondition)
}
