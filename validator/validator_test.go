package validator_test

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/dendrite"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/mock"
	"github.com/grigorimaxim422/atom/tools"
	"github.com/grigorimaxim422/atom/validator"
	"github.com/grigorimaxim422/atom/version"
	"github.com/grigorimaxim422/atom/wallet"
)

const testNetuid = 3

type env struct {
	chain *mock.Chain
	bus   EventBus.Bus
	mg    *metagraph.Metagraph
	svc   *metagraph.Service
	den   *dendrite.Dendrite
	val   validator.Validator
	valKp wallet.Keypair
	kps   []wallet.Keypair
}

// genEnv registers two miners serving real axons that answer with
// bodies of different lengths, one permit holder that must never be
// queried, and the validator itself.
func genEnv(t *testing.T, cfg config.Validator) *env {
	kps, err := mock.Keypairs(4)
	if err != nil {
		t.Fatal(err)
	}
	m0, m1, watcher, valKp := kps[0], kps[1], kps[2], kps[3]

	chain := mock.NewChain(testNetuid)
	chain.Register(m0.PublicKey(), common.RaoPerTao)
	chain.Register(m1.PublicKey(), common.RaoPerTao)
	chain.Register(watcher.PublicKey(), 100*common.RaoPerTao)
	chain.Register(valKp.PublicKey(), 10*common.RaoPerTao)
	chain.SetPermit(2, true)

	bus := EventBus.New()
	mg := metagraph.New(testNetuid, 42)
	svc := metagraph.NewService(mg, chain, bus, 10)

	serveMiner(t, chain, mg, m0, "0123456789")
	serveMiner(t, chain, mg, m1, "01234")
	// The permit holder announces an endpoint nothing listens on, so a
	// query against it would fail loudly.
	bindAxon(t, chain, watcher.PublicKey(), &common.AxonInfo{IP: "127.0.0.1", Port: 1, IPType: 4, Protocol: 4})

	den := dendrite.New(valKp, config.Dendrite{TimeoutSec: 2, MaxConcurrency: 4}, 42)
	val := validator.NewValidator(cfg, testNetuid, valKp, chain.Bind(valKp.PublicKey()),
		svc, den, bus, genChallenger(), lengthScorer)
	return &env{chain: chain, bus: bus, mg: mg, svc: svc, den: den, val: val, valKp: valKp, kps: kps}
}

// serveMiner starts a real axon for the keypair that echoes reply for
// any challenge and announces its listen address on the mock chain.
func serveMiner(t *testing.T, chain *mock.Chain, mg *metagraph.Metagraph, kp wallet.Keypair, reply string) {
	ax := axon.New(
		config.Axon{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1 << 20},
		config.Miner{},
		config.Epistula{AllowedDeltaMS: 8000},
		kp.SS58(42),
		mg,
	)
	ax.Attach(axon.Route{
		Path: "/challenge",
		Forward: func(ctx context.Context, req *axon.Request) ([]byte, error) {
			return []byte(reply), nil
		},
	})
	if err := ax.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ax.Stop)

	_, portStr, err := net.SplitHostPort(ax.Addr())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	bindAxon(t, chain, kp.PublicKey(), &common.AxonInfo{IP: "127.0.0.1", Port: uint16(port), IPType: 4, Protocol: 4})
}

func bindAxon(t *testing.T, chain *mock.Chain, account common.AccountID, info *common.AxonInfo) {
	if _, err := chain.Bind(account).ServeAxon(context.Background(), testNetuid, info); err != nil {
		t.Fatal(err)
	}
}

func genChallenger() validator.Challenger {
	return func(ctx context.Context) (validator.Challenge, error) {
		return validator.Challenge{Path: "/challenge", Body: []byte("ping")}, nil
	}
}

// lengthScorer rates a ten-byte answer 1.0 and shorter ones less.
func lengthScorer(ctx context.Context, resp *dendrite.Response) (float64, error) {
	score := float64(len(resp.Body)) / 10
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (self *env) startSync(t *testing.T) {
	self.svc.Init()
	self.svc.Start()
	t.Cleanup(self.svc.Stop)
	waitFor(t, "first sync", 3*time.Second, self.svc.Done)
}

// head advances the mock chain and wakes the epoch loop the way the
// head tracker would.
func (self *env) head(n uint64) {
	block := self.chain.ManualTick(n)
	self.bus.Publish(common.ChainHead, common.BlockPoint{Height: block})
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestEpochSetsWeights(t *testing.T) {
	cfg := config.Validator{
		Enabled:     true,
		EpochLength: 5,
		Alpha:       0.5,
		SampleSize:  16,
		StatePath:   t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)
	e.startSync(t)

	var setAt uint64
	if err := e.bus.Subscribe(common.WeightsSet, func(block uint64) {
		atomic.StoreUint64(&setAt, block)
	}); err != nil {
		t.Fatal(err)
	}

	e.val.Init()
	e.val.Start()
	defer e.val.Stop()

	e.head(9)
	waitFor(t, "weights submission", 5*time.Second, func() bool {
		return len(e.chain.WeightsCalls()) == 1
	})

	call := e.chain.WeightsCalls()[0]
	if call.Signer != e.valKp.PublicKey() {
		t.Fatal("weights must be signed by the validator hotkey")
	}
	if call.VersionKey != version.Spec() {
		t.Fatalf("version key %d, want %d", call.VersionKey, version.Spec())
	}
	if len(call.UIDs) != 2 || call.UIDs[0] != 0 || call.UIDs[1] != 1 {
		t.Fatalf("unexpected uids %v", call.UIDs)
	}
	// Ten bytes score 1.0, five bytes 0.5; the max normalizes to the
	// full u16 range.
	if call.Weights[0] != 65535 {
		t.Fatalf("uid 0 weight %d, want 65535", call.Weights[0])
	}
	if call.Weights[1] != 32768 {
		t.Fatalf("uid 1 weight %d, want 32768", call.Weights[1])
	}
	waitFor(t, "weights event", time.Second, func() bool {
		return atomic.LoadUint64(&setAt) == 10
	})

	var st struct {
		Block   uint64    `json:"block"`
		Scores  []float64 `json:"scores"`
		Hotkeys []string  `json:"hotkeys"`
	}
	if err := tools.ReadJSON(cfg.StatePath, &st); err != nil {
		t.Fatal(err)
	}
	if st.Block != 10 {
		t.Fatalf("state block %d, want 10", st.Block)
	}
	if st.Scores[0] != 0.5 || st.Scores[1] != 0.25 {
		t.Fatalf("unexpected persisted scores %v", st.Scores)
	}
	if st.Hotkeys[0] != e.kps[0].SS58(42) {
		t.Fatal("state must remember hotkeys for replacement detection")
	}
}

func TestEpochFollowsChainTempo(t *testing.T) {
	cfg := config.Validator{
		Enabled:    true,
		Alpha:      0.5,
		SampleSize: 16,
		StatePath:  t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)
	e.chain.SetTempo(5)
	e.startSync(t)

	e.val.Init()
	e.val.Start()
	defer e.val.Stop()

	e.head(2)
	time.Sleep(300 * time.Millisecond)
	if len(e.chain.WeightsCalls()) != 0 {
		t.Fatal("epoch must not run before a tempo elapsed")
	}

	e.head(7)
	waitFor(t, "weights submission", 5*time.Second, func() bool {
		return len(e.chain.WeightsCalls()) == 1
	})
}

func TestHotkeyReplacementZeroesScore(t *testing.T) {
	cfg := config.Validator{
		Enabled:     true,
		EpochLength: 5,
		Alpha:       0.5,
		SampleSize:  16,
		StatePath:   t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)
	e.startSync(t)

	e.val.Init()
	e.val.Start()
	defer e.val.Stop()

	e.head(9)
	waitFor(t, "first weights", 5*time.Second, func() bool {
		return len(e.chain.WeightsCalls()) == 1
	})

	fresh, err := mock.Keypairs(5)
	if err != nil {
		t.Fatal(err)
	}
	e.chain.Replace(0, fresh[4].PublicKey(), common.RaoPerTao)
	if err := e.svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.head(5)
	waitFor(t, "second weights", 5*time.Second, func() bool {
		return len(e.chain.WeightsCalls()) == 2
	})
	call := e.chain.WeightsCalls()[1]
	if len(call.UIDs) != 1 || call.UIDs[0] != 1 {
		t.Fatalf("replaced uid 0 must drop out of weights, got uids %v", call.UIDs)
	}
	if e.val.Scores()[0] != 0 {
		t.Fatal("replaced hotkey must reset its score")
	}
}

func TestAllZeroScoresSkipSubmission(t *testing.T) {
	cfg := config.Validator{
		Enabled:     true,
		EpochLength: 5,
		Alpha:       0.5,
		SampleSize:  16,
		StatePath:   t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)
	e.startSync(t)

	zero := func(ctx context.Context, resp *dendrite.Response) (float64, error) {
		return 0, nil
	}
	val := validator.NewValidator(cfg, testNetuid, e.valKp, e.chain.Bind(e.valKp.PublicKey()),
		e.svc, e.den, e.bus, genChallenger(), zero)
	val.Init()
	val.Start()
	defer val.Stop()

	e.head(9)
	waitFor(t, "epoch state save", 5*time.Second, func() bool {
		var st struct {
			Hotkeys []string `json:"hotkeys"`
		}
		return tools.ReadJSON(cfg.StatePath, &st) == nil && len(st.Hotkeys) == 4
	})
	if len(e.chain.WeightsCalls()) != 0 {
		t.Fatal("zero scores must not reach the chain")
	}
}

func TestScoreMovingAverage(t *testing.T) {
	cfg := config.Validator{
		Enabled:     true,
		EpochLength: 5,
		Alpha:       0.5,
		StatePath:   t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)

	e.val.UpdateScore(2, 1.0)
	if got := e.val.Scores()[2]; got != 0.5 {
		t.Fatalf("first update %v, want 0.5", got)
	}
	e.val.UpdateScore(2, 1.0)
	if got := e.val.Scores()[2]; got != 0.75 {
		t.Fatalf("second update %v, want 0.75", got)
	}
	e.val.UpdateScore(2, 0)
	if got := e.val.Scores()[2]; got != 0.375 {
		t.Fatalf("decay %v, want 0.375", got)
	}
}

func TestStateRestoredAcrossRestart(t *testing.T) {
	cfg := config.Validator{
		Enabled:     true,
		EpochLength: 5,
		Alpha:       0.5,
		StatePath:   t.TempDir() + "/state.json",
	}
	e := genEnv(t, cfg)

	e.val.Init()
	e.val.Start()
	e.val.UpdateScore(3, 0.8)
	e.val.Stop()

	reborn := validator.NewValidator(cfg, testNetuid, e.valKp, e.chain.Bind(e.valKp.PublicKey()),
		e.svc, e.den, e.bus, genChallenger(), lengthScorer)
	reborn.Init()
	scores := reborn.Scores()
	if len(scores) != 4 {
		t.Fatalf("restored %d scores, want 4", len(scores))
	}
	if scores[3] != 0.4 {
		t.Fatalf("restored score %v, want 0.4", scores[3])
	}
}
