package notarius

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notarius/notarius/src/config"
	"github.com/notarius/notarius/src/crypto/keys"
	"github.com/notarius/notarius/src/ledger"
	"github.com/notarius/notarius/src/net"
	"github.com/notarius/notarius/src/node"
	"github.com/notarius/notarius/src/privval"
	"github.com/notarius/notarius/src/service"
	"github.com/notarius/notarius/src/validators"
)

// Notarius assembles a timestamping validator from its configuration: key,
// validator set, ledger store, double-sign protection, transport, consensus
// node, and HTTP API.
type Notarius struct {
	Config     *config.Config
	Node       *node.Node
	Transport  net.Transport
	Store      ledger.Store
	Validators *validators.Set
	Signer     *privval.Signer
	Service    *service.Service

	logger *logrus.Entry
}

// NewNotarius is a factory method. Call Init before Run.
func NewNotarius(conf *config.Config) *Notarius {
	engine := &Notarius{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

func (n *Notarius) initKey() error {
	if n.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(n.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()
		if err != nil {
			return fmt.Errorf("cannot read private key from %s: %v", n.Config.Keyfile(), err)
		}

		n.Config.Key = privKey
	}
	return nil
}

func (n *Notarius) initValidators() error {
	if n.Validators == nil {
		valStore := validators.NewJSONValidatorSet(n.Config.DataDir)

		valSet, err := valStore.Set()
		if err != nil {
			return err
		}

		if valSet.Len() < 1 {
			return fmt.Errorf("validators.json should define at least one validator")
		}

		n.Validators = valSet
	}

	pubKeyHex := keys.PublicKeyHex(&n.Config.Key.PublicKey)
	if !n.Validators.Contains(pubKeyHex) {
		return fmt.Errorf("cannot find self pubkey %s in validators.json", pubKeyHex)
	}

	return nil
}

func (n *Notarius) initStore() error {
	if !n.Config.Store {
		n.Store = ledger.NewInmemStore()

		n.logger.Debug("created new in-mem store")
	} else {
		n.logger.WithField("path", n.Config.DatabaseDir).Debug("Attempting to load or create database")

		store, err := ledger.LoadOrCreateBadgerStore(n.Config.DatabaseDir)
		if err != nil {
			return err
		}

		if store.NeedBootstrap() {
			n.logger.Debug("loaded badger store from existing database")
		} else {
			n.logger.Debug("created new badger store from fresh database")
		}

		n.Store = store
	}

	return nil
}

func (n *Notarius) initSigner() error {
	signer, err := privval.NewSigner(n.Config.Key, n.Config.SignStateFile())
	if err != nil {
		return err
	}

	n.Signer = signer

	return nil
}

func (n *Notarius) initTransport() error {
	transport, err := net.NewTCPTransport(
		n.Config.BindAddr,
		n.Config.AdvertiseAddr,
		n.Config.MaxPool,
		n.Config.TCPTimeout,
		n.logger,
	)
	if err != nil {
		return err
	}

	n.Transport = transport

	return nil
}

func (n *Notarius) initNode() error {
	nd, err := node.NewNode(
		n.Config.ConsensusConfig(),
		n.Validators,
		n.Store,
		n.Signer,
		n.Transport,
		n.logger,
	)
	if err != nil {
		return err
	}

	if err := nd.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	n.Node = nd

	return nil
}

func (n *Notarius) initService() error {
	if !n.Config.NoService {
		n.Service = service.NewService(n.Config.ServiceAddr, n.Node, n.logger)
	}
	return nil
}

// Init reads the configuration and builds every component, in dependency
// order. The node comes out of Init caught up with its peers.
func (n *Notarius) Init() error {
	if err := n.initKey(); err != nil {
		return err
	}

	if err := n.initValidators(); err != nil {
		return err
	}

	if err := n.initStore(); err != nil {
		return err
	}

	if err := n.initSigner(); err != nil {
		return err
	}

	if err := n.initTransport(); err != nil {
		return err
	}

	if err := n.initNode(); err != nil {
		return err
	}

	if err := n.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the API service and the node. This is a blocking call.
func (n *Notarius) Run() {
	if n.Service != nil {
		go n.Service.Serve()
	}

	n.Node.Run()
}

// Keygen generates a new validator key and writes it to keyfile. It refuses
// to overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
