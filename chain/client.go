// Package chain reads and writes subtensor state over the node's
// JSON-RPC interface: typed storage queries for the metagraph and the
// two extrinsics a subnet participant submits, set_weights and
// serve_axon.
package chain

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/grigorimaxim422/atom/chain/rpc"
	"github.com/grigorimaxim422/atom/chain/scale"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
)

// redialMinInterval throttles reconnect attempts after a failure.
const redialMinInterval = time.Second

// Client is a subtensor client bound to one endpoint. The connection
// dials lazily and redials after a disconnect; reads decode SCALE
// storage values, writes sign extrinsics with the configured hotkey.
type Client struct {
	cfg    config.Chain
	signer wallet.Keypair

	mu       sync.Mutex
	conn     *rpc.Client
	lastDial time.Time
	dialErr  error
	genesis  string
	runtime  *RuntimeVersion

	// submitMu serializes extrinsic submission so nonces only move
	// forward.
	submitMu  sync.Mutex
	nextNonce uint64
}

// NewClient builds a client. signer may be nil for read-only tooling;
// writes then fail with an explicit error.
func NewClient(cfg config.Chain, signer wallet.Keypair) *Client {
	return &Client{cfg: cfg, signer: signer}
}

// Connect dials eagerly so startup surfaces a bad endpoint at once.
func (self *Client) Connect(ctx context.Context) error {
	_, err := self.client(ctx)
	return err
}

func (self *Client) Close() {
	self.mu.Lock()
	conn := self.conn
	self.conn = nil
	self.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (self *Client) client(ctx context.Context) (*rpc.Client, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.conn != nil {
		select {
		case <-self.conn.Closed():
			log.Warn("chain connection to %s lost, redialing", self.cfg.Endpoint)
			self.conn = nil
			self.runtime = nil
		default:
			return self.conn, nil
		}
	}
	if self.dialErr != nil && time.Since(self.lastDial) < redialMinInterval {
		return nil, self.dialErr
	}
	self.lastDial = time.Now()
	conn, err := rpc.Dial(self.cfg.Endpoint,
		time.Duration(self.cfg.DialTimeoutSec)*time.Second,
		time.Duration(self.cfg.CallTimeoutSec)*time.Second)
	if err != nil {
		self.dialErr = errors.Wrap(err, "chain dial")
		return nil, self.dialErr
	}
	self.dialErr = nil
	self.conn = conn
	return conn, nil
}

func (self *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	conn, err := self.client(ctx)
	if err != nil {
		return err
	}
	return conn.Call(ctx, method, out, params...)
}

// getStorage reads one raw storage value. A missing entry is
// common.ErrNotFound, distinct from transport and decode failures.
func (self *Client) getStorage(ctx context.Context, key StorageKey) ([]byte, error) {
	var value *string
	if err := self.call(ctx, "state_getStorage", &value, key.Hex()); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, common.ErrNotFound
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(*value, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "storage value")
	}
	return raw, nil
}

// Header returns the current best header.
func (self *Client) Header(ctx context.Context) (*Header, error) {
	header := &Header{}
	if err := self.call(ctx, "chain_getHeader", header); err != nil {
		return nil, err
	}
	return header, nil
}

func (self *Client) BlockNumber(ctx context.Context) (uint64, error) {
	header, err := self.Header(ctx)
	if err != nil {
		return 0, err
	}
	return header.Height()
}

// BlockHash resolves the canonical hash at a height.
func (self *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash *string
	if err := self.call(ctx, "chain_getBlockHash", &hash, height); err != nil {
		return "", err
	}
	if hash == nil {
		return "", common.ErrNotFound
	}
	return *hash, nil
}

// GenesisHash is fetched once and checked against the configured pin.
func (self *Client) GenesisHash(ctx context.Context) (string, error) {
	self.mu.Lock()
	cached := self.genesis
	self.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	hash, err := self.BlockHash(ctx, 0)
	if err != nil {
		return "", err
	}
	if want := self.cfg.GenesisHash; want != "" && !hashEqual(want, hash) {
		return "", errors.Errorf("endpoint %s is on chain %s, config pins %s",
			self.cfg.Endpoint, hash, want)
	}
	self.mu.Lock()
	self.genesis = hash
	self.mu.Unlock()
	return hash, nil
}

func hashEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// RuntimeVersion is cached until the connection is rebuilt; runtime
// upgrades bump the spec version and arrive with a reconnect or a
// failed submission at worst.
func (self *Client) RuntimeVersion(ctx context.Context) (*RuntimeVersion, error) {
	self.mu.Lock()
	cached := self.runtime
	self.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	rt := &RuntimeVersion{}
	if err := self.call(ctx, "state_getRuntimeVersion", rt); err != nil {
		return nil, err
	}
	self.mu.Lock()
	self.runtime = rt
	self.mu.Unlock()
	return rt, nil
}

func (self *Client) Health(ctx context.Context) (*Health, error) {
	health := &Health{}
	if err := self.call(ctx, "system_health", health); err != nil {
		return nil, err
	}
	return health, nil
}

// AccountNonce reads System.Account. A missing account starts at 0.
func (self *Client) AccountNonce(ctx context.Context, account common.AccountID) (uint32, error) {
	raw, err := self.getStorage(ctx, keySystemAccount(account))
	if errors.Cause(err) == common.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeAccountNonce(raw)
}

// SubnetworkN is the number of registered neuron slots on a subnet.
func (self *Client) SubnetworkN(ctx context.Context, netuid common.NetUID) (uint16, error) {
	raw, err := self.getStorage(ctx, keySubnetworkN(netuid))
	if err != nil {
		return 0, err
	}
	return scale.NewDecoder(raw).U16()
}

// UIDForKey maps a hotkey to its slot; common.ErrNotFound when the
// hotkey is not registered on the subnet.
func (self *Client) UIDForKey(ctx context.Context, netuid common.NetUID, key common.AccountID) (common.UID, error) {
	raw, err := self.getStorage(ctx, keyUids(netuid, key))
	if err != nil {
		return 0, err
	}
	uid, err := scale.NewDecoder(raw).U16()
	return common.UID(uid), err
}

func (self *Client) KeyForUID(ctx context.Context, netuid common.NetUID, uid common.UID) (common.AccountID, error) {
	raw, err := self.getStorage(ctx, keyKeys(netuid, uid))
	if err != nil {
		return common.AccountID{}, err
	}
	return scale.NewDecoder(raw).Bytes32()
}

// StakeFor is the total stake behind a hotkey, in rao.
func (self *Client) StakeFor(ctx context.Context, key common.AccountID) (uint64, error) {
	raw, err := self.getStorage(ctx, keyTotalHotkeyStake(key))
	if errors.Cause(err) == common.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return scale.NewDecoder(raw).U64()
}

func (self *Client) AxonFor(ctx context.Context, netuid common.NetUID, key common.AccountID) (*common.AxonInfo, error) {
	raw, err := self.getStorage(ctx, keyAxons(netuid, key))
	if err != nil {
		return nil, err
	}
	return decodeAxonInfo(raw)
}

func (self *Client) Tempo(ctx context.Context, netuid common.NetUID) (uint16, error) {
	raw, err := self.getStorage(ctx, keyTempo(netuid))
	if err != nil {
		return 0, err
	}
	return scale.NewDecoder(raw).U16()
}

func (self *Client) ValidatorPermits(ctx context.Context, netuid common.NetUID) ([]bool, error) {
	raw, err := self.getStorage(ctx, keyValidatorPermit(netuid))
	if errors.Cause(err) == common.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBoolVec(raw)
}

func (self *Client) IsHotkeyRegistered(ctx context.Context, netuid common.NetUID, key common.AccountID) (bool, error) {
	_, err := self.UIDForKey(ctx, netuid, key)
	if errors.Cause(err) == common.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SubscribeHeads follows new best headers. The caller owns redial.
func (self *Client) SubscribeHeads(ctx context.Context) (*rpc.Subscription, error) {
	conn, err := self.client(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Subscribe(ctx, "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
}

// SetWeights submits the weight vector for an epoch and returns the
// extrinsic hash.
func (self *Client) SetWeights(ctx context.Context, netuid common.NetUID, uids []common.UID, weights []uint16, versionKey uint64) (string, error) {
	if len(uids) == 0 || len(uids) != len(weights) {
		return "", errors.Errorf("set_weights wants matching uids and weights, got %d/%d", len(uids), len(weights))
	}
	idx := defaultSetWeightsCall
	if override, ok := self.cfg.SetWeightsIndex(); ok {
		idx = override
	}
	return self.submit(ctx, encodeSetWeights(idx, netuid, uids, weights, versionKey))
}

// ServeAxon announces the axon endpoint on chain.
func (self *Client) ServeAxon(ctx context.Context, netuid common.NetUID, axon *common.AxonInfo) (string, error) {
	idx := defaultServeAxonCall
	if override, ok := self.cfg.ServeAxonIndex(); ok {
		idx = override
	}
	call, err := encodeServeAxon(idx, netuid, axon)
	if err != nil {
		return "", err
	}
	return self.submit(ctx, call)
}

func (self *Client) submit(ctx context.Context, call []byte) (string, error) {
	if self.signer == nil {
		return "", errors.New("chain client has no signer")
	}
	self.submitMu.Lock()
	defer self.submitMu.Unlock()

	genesis, err := self.GenesisHash(ctx)
	if err != nil {
		return "", err
	}
	var genesisHash [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(genesis, "0x"))
	if err != nil || len(raw) != 32 {
		return "", errors.Errorf("bad genesis hash %s", genesis)
	}
	copy(genesisHash[:], raw)

	rt, err := self.RuntimeVersion(ctx)
	if err != nil {
		return "", err
	}
	chainNonce, err := self.AccountNonce(ctx, self.signer.PublicKey())
	if err != nil {
		return "", err
	}
	nonce := uint64(chainNonce)
	if nonce < self.nextNonce {
		nonce = self.nextNonce
	}

	ext, err := signExtrinsic(self.signer, &extrinsicParams{
		call:         call,
		nonce:        nonce,
		specVersion:  rt.SpecVersion,
		txVersion:    rt.TransactionVersion,
		genesisHash:  genesisHash,
		metadataHash: self.cfg.CheckMetadataHash,
	})
	if err != nil {
		return "", err
	}

	var txHash string
	if err := self.call(ctx, "author_submitExtrinsic", &txHash, "0x"+hex.EncodeToString(ext)); err != nil {
		return "", errors.Wrap(err, "submit extrinsic")
	}
	self.nextNonce = nonce + 1
	log.Info("extrinsic %s accepted, nonce %d", txHash, nonce)
	return txHash, nil
}
