package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/node"
	"github.com/notarius/notarius/src/types"
)

// Service exposes the timestamping API over HTTP.
type Service struct {
	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// SubmitResponse is the body returned by the /tx endpoint.
type SubmitResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// NewService is a factory method for the HTTP API.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/tx", s.makeHandler(s.SubmitTx))
	s.mux.HandleFunc("/entry/", s.makeHandler(s.GetEntry))
	s.mux.HandleFunc("/proof/", s.makeHandler(s.GetProof))
	s.mux.HandleFunc("/commitment/", s.makeHandler(s.GetCommitment))
	s.mux.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	s.mux.HandleFunc("/validators", s.makeHandler(s.GetValidators))
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// ServeHTTP implements http.Handler so the service can be mounted inside
// another server.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// SubmitTx accepts a signed timestamp request. Rejections come back as 400
// with a reason, internal failures as 500.
func (s *Service) SubmitTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var tx types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		s.logger.WithError(err).Error("Decoding transaction")
		writeJSON(w, http.StatusBadRequest, SubmitResponse{Reason: err.Error()})
		return
	}

	if err := s.node.SubmitTransaction(&tx); err != nil {
		status := http.StatusInternalServerError
		if types.IsRejection(err) {
			status = http.StatusBadRequest
		}

		s.logger.WithFields(logrus.Fields{
			"content_hash": tx.ContentHash,
			"error":        err,
		}).Debug("Rejecting transaction")

		writeJSON(w, status, SubmitResponse{Reason: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{Accepted: true})
}

// GetEntry returns the ledger entry for a committed content hash.
func (s *Service) GetEntry(w http.ResponseWriter, r *http.Request) {
	contentHash := r.URL.Path[len("/entry/"):]

	entry, err := s.node.GetEntry(contentHash)
	if err != nil {
		s.respondStoreErr(w, err, contentHash)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// GetProof returns an existence proof for a content hash. An optional height
// query parameter anchors the proof at a historical commitment.
func (s *Service) GetProof(w http.ResponseWriter, r *http.Request) {
	contentHash := r.URL.Path[len("/proof/"):]

	asOfHeight := -1
	if param := r.URL.Query().Get("height"); param != "" {
		h, err := strconv.Atoi(param)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOfHeight = h
	}

	proof, err := s.node.GetProof(contentHash, asOfHeight)
	if err != nil {
		s.respondStoreErr(w, err, contentHash)
		return
	}

	writeJSON(w, http.StatusOK, proof)
}

// GetCommitment returns the ledger commitment at a height.
func (s *Service) GetCommitment(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/commitment/"):]

	height, err := strconv.Atoi(param)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	commitment, err := s.node.GetCommitment(height)
	if err != nil {
		s.respondStoreErr(w, err, param)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height":     height,
		"commitment": commitment,
	})
}

// GetBlock returns the finalized block at a height.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	height, err := strconv.Atoi(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing block height parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := s.node.GetBlock(height)
	if err != nil {
		s.respondStoreErr(w, err, param)
		return
	}

	writeJSON(w, http.StatusOK, block)
}

// GetValidators returns the validator set.
func (s *Service) GetValidators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetValidatorSet().Validators)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetStats())
}

func (s *Service) respondStoreErr(w http.ResponseWriter, err error, key string) {
	if common.IsStore(err, common.KeyNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"key":   strings.TrimSpace(key),
		"error": err,
	}).Error("Store lookup failed")

	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
