// Package nethsmtest provides an in-memory NetHSM for tests. Keys are
// real Go keys, so signatures can be verified by the caller.
package nethsmtest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/niclabs/p11nethsm/nethsm"
)

const (
	Operator      = "operator"
	Administrator = "admin"
	Password      = "secret-password"
)

type role int

const (
	roleOperator role = iota
	roleAdministrator
)

type user struct {
	password string
	role     role
}

type storedKey struct {
	meta   nethsm.PublicKey
	signer crypto.Signer
	cert   []byte
}

// Server is a fake NetHSM served over httptest.
type Server struct {
	t  testing.TB
	ts *httptest.Server

	mu    sync.Mutex
	users map[string]user
	keys  map[string]*storedKey
	calls map[string]int

	expire atomic.Int32

	// SignDelay is slept inside every sign request.
	SignDelay time.Duration
	// SignOverride, when set, replaces the signature computed for a
	// request.
	SignOverride func(id string, mode nethsm.SignMode, message []byte) []byte
	// ListHook, when set, runs inside every key listing before the
	// response is written.
	ListHook func()
	// NotReady makes the health probe fail.
	NotReady atomic.Bool
}

// New starts a server with one operator and one administrator, both
// using Password.
func New(t testing.TB) *Server {
	s := &Server{
		t: t,
		users: map[string]user{
			Operator:      {password: Password, role: roleOperator},
			Administrator: {password: Password, role: roleAdministrator},
		},
		keys:  make(map[string]*storedKey),
		calls: make(map[string]int),
	}
	s.ts = httptest.NewServer(s.routes())
	t.Cleanup(s.ts.Close)
	return s
}

// URL is the api base url, as it would appear in a slot configuration.
func (s *Server) URL() string {
	return s.ts.URL + "/api/v1"
}

// ExpireCredentials makes the next n authenticated requests fail with
// 401, whatever credentials they carry.
func (s *Server) ExpireCredentials(n int) {
	s.expire.Store(int32(n))
}

// Calls returns how many times an operation was served.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AddKey stores signer under id with the given allowed mechanisms.
func (s *Server) AddKey(id string, signer crypto.Signer, mechanisms ...nethsm.KeyMechanism) {
	meta, err := describe(signer)
	if err != nil {
		s.t.Fatalf("nethsmtest: %v", err)
	}
	meta.Mechanisms = mechanisms
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = &storedKey{meta: *meta, signer: signer}
}

// AddECKey generates and stores an ECDSA key.
func (s *Server) AddECKey(id string, curve elliptic.Curve) *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		s.t.Fatalf("nethsmtest: %v", err)
	}
	s.AddKey(id, key, nethsm.MechanismECDSASignature)
	return key
}

// AddRSAKey generates and stores an RSA key allowed to sign with
// PKCS#1 v1.5 and PSS SHA-256.
func (s *Server) AddRSAKey(id string, bits int) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		s.t.Fatalf("nethsmtest: %v", err)
	}
	s.AddKey(id, key, nethsm.MechanismRSASignaturePKCS1, nethsm.MechanismRSASignaturePSSSHA256)
	return key
}

// AddEd25519Key generates and stores an Ed25519 key.
func (s *Server) AddEd25519Key(id string) ed25519.PrivateKey {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		s.t.Fatalf("nethsmtest: %v", err)
	}
	s.AddKey(id, key, nethsm.MechanismEdDSASignature)
	return key
}

// SetCertificate stores a DER certificate with a key.
func (s *Server) SetCertificate(id string, der []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.cert = der
	}
}

// HasKey reports whether id is stored.
func (s *Server) HasKey(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[id]
	return ok
}

// Key returns the metadata stored for id.
func (s *Server) Key(id string) (nethsm.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nethsm.PublicKey{}, false
	}
	return k.meta, true
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/ready", s.count("health", s.health))
		r.Get("/info", s.count("info", s.info))
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate(roleOperator))
			r.Get("/keys", s.count("list_keys", s.listKeys))
			r.Get("/keys/{id}", s.count("get_key", s.getKey))
			r.Get("/keys/{id}/cert", s.count("get_cert", s.getCert))
			r.Post("/keys/{id}/sign", s.count("sign", s.sign))
			r.Post("/random", s.count("random", s.random))
		})
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate(roleAdministrator))
			r.Put("/keys/{id}", s.count("put_key", s.putKey))
			r.Delete("/keys/{id}", s.count("delete_key", s.deleteKey))
			r.Put("/keys/{id}/cert", s.count("put_cert", s.putCert))
			r.Delete("/keys/{id}/cert", s.count("delete_cert", s.deleteCert))
		})
	})
	return r
}

func (s *Server) count(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		s.mu.Unlock()
		h(w, r)
	}
}

func (s *Server) authenticate(min role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, password, ok := r.BasicAuth()
			s.mu.Lock()
			u, known := s.users[name]
			s.mu.Unlock()
			if !ok || !known || u.password != password || s.consumeExpiry() {
				writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}
			if u.role < min {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) consumeExpiry() bool {
	for {
		n := s.expire.Load()
		if n <= 0 {
			return false
		}
		if s.expire.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.NotReady.Load() {
		writeError(w, http.StatusPreconditionFailed, "not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nethsm.InfoResponse{Vendor: "Nitrokey GmbH", Product: "NetHSM"})
}

func (s *Server) listKeys(w http.ResponseWriter, _ *http.Request) {
	if s.ListHook != nil {
		s.ListHook()
	}
	s.mu.Lock()
	items := make([]nethsm.KeyItem, 0, len(s.keys))
	for id := range s.keys {
		items = append(items, nethsm.KeyItem{ID: id})
	}
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*storedKey, string, bool) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	k, ok := s.keys[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "key not found")
	}
	return k, id, ok
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	k, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	meta := k.meta
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) getCert(w http.ResponseWriter, r *http.Request) {
	k, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	cert := k.cert
	s.mu.Unlock()
	if cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_ = pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: cert})
}

func (s *Server) putCert(w http.ResponseWriter, r *http.Request) {
	k, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	der := body
	if block, _ := pem.Decode(body); block != nil {
		der = block.Bytes
	}
	s.mu.Lock()
	k.cert = der
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteCert(w http.ResponseWriter, r *http.Request) {
	k, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	k.cert = nil
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req nethsm.PrivateKey
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signer, err := importKey(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta, err := describe(signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta.Mechanisms = req.Mechanisms
	meta.Restrictions = req.Restrictions
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[id]; exists {
		writeError(w, http.StatusConflict, "key already exists")
		return
	}
	s.keys[id] = &storedKey{meta: *meta, signer: signer}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.keys, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sign(w http.ResponseWriter, r *http.Request) {
	k, id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req nethsm.SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	message, err := base64.StdEncoding.DecodeString(req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, "message is not base64")
		return
	}
	if s.SignDelay > 0 {
		time.Sleep(s.SignDelay)
	}
	var signature []byte
	if s.SignOverride != nil {
		signature = s.SignOverride(id, req.Mode, message)
	} else {
		signature, err = signWith(k, req.Mode, message)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.mu.Lock()
	k.meta.Operations++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, nethsm.SignResponse{Signature: base64.StdEncoding.EncodeToString(signature)})
}

func (s *Server) random(w http.ResponseWriter, r *http.Request) {
	var req nethsm.RandomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Length < 0 {
		writeError(w, http.StatusBadRequest, "bad length")
		return
	}
	buf := make([]byte, req.Length)
	_, _ = rand.Read(buf)
	writeJSON(w, http.StatusOK, nethsm.RandomResponse{Random: base64.StdEncoding.EncodeToString(buf)})
}

func signWith(k *storedKey, mode nethsm.SignMode, message []byte) ([]byte, error) {
	switch key := k.signer.(type) {
	case *ecdsa.PrivateKey:
		if mode != nethsm.SignModeECDSA {
			return nil, fmt.Errorf("sign mode %s does not fit the key", mode)
		}
		return ecdsa.SignASN1(rand.Reader, key, message)
	case ed25519.PrivateKey:
		if mode != nethsm.SignModeEdDSA {
			return nil, fmt.Errorf("sign mode %s does not fit the key", mode)
		}
		return ed25519.Sign(key, message), nil
	case *rsa.PrivateKey:
		switch mode {
		case nethsm.SignModePKCS1:
			return rsa.SignPKCS1v15(rand.Reader, key, crypto.Hash(0), message)
		case nethsm.SignModePSSSHA1:
			return rsa.SignPSS(rand.Reader, key, crypto.SHA1, message, nil)
		case nethsm.SignModePSSSHA224:
			return rsa.SignPSS(rand.Reader, key, crypto.SHA224, message, nil)
		case nethsm.SignModePSSSHA256:
			return rsa.SignPSS(rand.Reader, key, crypto.SHA256, message, nil)
		case nethsm.SignModePSSSHA384:
			return rsa.SignPSS(rand.Reader, key, crypto.SHA384, message, nil)
		case nethsm.SignModePSSSHA512:
			return rsa.SignPSS(rand.Reader, key, crypto.SHA512, message, nil)
		}
	}
	return nil, fmt.Errorf("sign mode %s does not fit the key", mode)
}

func describe(signer crypto.Signer) (*nethsm.PublicKey, error) {
	switch key := signer.(type) {
	case *rsa.PrivateKey:
		return &nethsm.PublicKey{
			Type: nethsm.KeyTypeRSA,
			Public: &nethsm.KeyPublicData{
				Modulus:        key.N.Bytes(),
				PublicExponent: big.NewInt(int64(key.E)).Bytes(),
			},
		}, nil
	case *ecdsa.PrivateKey:
		var keyType nethsm.KeyType
		switch key.Curve {
		case elliptic.P224():
			keyType = nethsm.KeyTypeECP224
		case elliptic.P256():
			keyType = nethsm.KeyTypeECP256
		case elliptic.P384():
			keyType = nethsm.KeyTypeECP384
		case elliptic.P521():
			keyType = nethsm.KeyTypeECP521
		default:
			return nil, fmt.Errorf("unsupported curve %s", key.Curve.Params().Name)
		}
		return &nethsm.PublicKey{
			Type:   keyType,
			Public: &nethsm.KeyPublicData{Data: elliptic.Marshal(key.Curve, key.X, key.Y)},
		}, nil
	case ed25519.PrivateKey:
		return &nethsm.PublicKey{
			Type:   nethsm.KeyTypeCurve25519,
			Public: &nethsm.KeyPublicData{Data: []byte(key.Public().(ed25519.PublicKey))},
		}, nil
	}
	return nil, fmt.Errorf("unsupported key %T", signer)
}

func importKey(req *nethsm.PrivateKey) (crypto.Signer, error) {
	switch req.Type {
	case nethsm.KeyTypeRSA:
		p := new(big.Int).SetBytes(req.Private.PrimeP)
		q := new(big.Int).SetBytes(req.Private.PrimeQ)
		e := new(big.Int).SetBytes(req.Private.PublicExponent)
		one := big.NewInt(1)
		phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
		d := new(big.Int).ModInverse(e, phi)
		if d == nil {
			return nil, fmt.Errorf("rsa exponent is not invertible")
		}
		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: new(big.Int).Mul(p, q), E: int(e.Int64())},
			D:         d,
			Primes:    []*big.Int{p, q},
		}
		if err := key.Validate(); err != nil {
			return nil, err
		}
		key.Precompute()
		return key, nil
	case nethsm.KeyTypeECP224, nethsm.KeyTypeECP256, nethsm.KeyTypeECP384, nethsm.KeyTypeECP521:
		curve := map[nethsm.KeyType]elliptic.Curve{
			nethsm.KeyTypeECP224: elliptic.P224(),
			nethsm.KeyTypeECP256: elliptic.P256(),
			nethsm.KeyTypeECP384: elliptic.P384(),
			nethsm.KeyTypeECP521: elliptic.P521(),
		}[req.Type]
		key := &ecdsa.PrivateKey{D: new(big.Int).SetBytes(req.Private.Data)}
		key.Curve = curve
		key.X, key.Y = curve.ScalarBaseMult(req.Private.Data)
		return key, nil
	case nethsm.KeyTypeCurve25519:
		if len(req.Private.Data) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(req.Private.Data), nil
	}
	return nil, fmt.Errorf("unsupported key type %s", req.Type)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, nethsm.ErrorResponse{Message: msg})
}
