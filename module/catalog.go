package module

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/pkcs11"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/objects"
	"github.com/niclabs/p11nethsm/storage"
)

// fetchLimit bounds the metadata requests a search runs at once.
const fetchLimit = 8

// Catalog exposes the keys of one NetHSM as PKCS#11 objects. Handles come
// from a table shared by every slot. Objects built by a search are kept
// until the next search or until they are destroyed.
type Catalog struct {
	slot    uint
	url     string
	handles *objects.HandleTable
	aliases *objects.AliasTable
	cache   storage.KeyStorage
	ttl     time.Duration
	log     *zap.SugaredLogger

	creates singleflight.Group

	mu      sync.RWMutex
	objects map[uint]*objects.CryptoObject
}

// NewCatalog returns the catalog of the slot reached at url. cache may
// be nil.
func NewCatalog(slot uint, url string, handles *objects.HandleTable, aliases *objects.AliasTable,
	cache storage.KeyStorage, ttl time.Duration, logger *zap.SugaredLogger) *Catalog {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Catalog{
		slot:    slot,
		url:     url,
		handles: handles,
		aliases: aliases,
		cache:   cache,
		ttl:     ttl,
		log:     logger.With("component", "catalog"),
		objects: make(map[uint]*objects.CryptoObject),
	}
}

// Get returns the object a handle names.
func (c *Catalog) Get(ctx context.Context, login *LoginCtx, handle uint) (*objects.CryptoObject, error) {
	ref, ok := c.handles.Resolve(handle)
	if !ok || ref.Slot != c.slot {
		return nil, ckr.New("Catalog.Get", "unknown object handle", ckr.ObjectHandleInvalid)
	}
	c.mu.RLock()
	object, ok := c.objects[handle]
	c.mu.RUnlock()
	if ok {
		return object, nil
	}

	key, err := c.fetch(ctx, login, ref.ID)
	if nethsm.IsNotFound(err) {
		c.handles.Forget(ref)
		return nil, ckr.New("Catalog.Get", "object no longer exists", ckr.ObjectHandleInvalid)
	}
	if err != nil {
		return nil, err
	}
	object, err = c.build(ref, key)
	if err != nil {
		return nil, err
	}
	if object == nil {
		return nil, ckr.New("Catalog.Get", "object no longer exists", ckr.ObjectHandleInvalid)
	}
	c.remember(object)
	return object, nil
}

// Find returns the handles of the objects matching filter, in a stable
// order. CKA_ID and CKA_LABEL select a single key through the alias
// table, CKA_CLASS selects the kinds built.
func (c *Catalog) Find(ctx context.Context, login *LoginCtx, filter objects.Attributes) ([]uint, error) {
	filter, ids, err := c.candidates(ctx, login, filter)
	if err != nil {
		return nil, err
	}
	kinds, err := kindsOf(filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 || len(kinds) == 0 {
		return []uint{}, nil
	}

	found := make([][]*objects.CryptoObject, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, id := range ids {
		g.Go(func() error {
			key, err := c.fetch(gctx, login, id)
			if nethsm.IsNotFound(err) {
				// deleted after the listing
				return nil
			}
			if err != nil {
				return err
			}
			for _, kind := range kinds {
				object, err := c.build(objects.Ref{Slot: c.slot, ID: id, Kind: kind}, key)
				if err != nil {
					return err
				}
				if object != nil && object.Match(filter) {
					found[i] = append(found[i], object)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	handles := make([]uint, 0, len(ids))
	for _, list := range found {
		for _, object := range list {
			c.remember(object)
			handles = append(handles, object.Handle)
		}
	}
	c.log.Debugw("search done", "filter", len(filter), "keys", len(ids), "objects", len(handles))
	return handles, nil
}

// candidates resolves the identifiers a search looks at. The identifier
// attributes it consumed are removed from the returned filter.
func (c *Catalog) candidates(ctx context.Context, login *LoginCtx, filter objects.Attributes) (objects.Attributes, []string, error) {
	rest := make(objects.Attributes, len(filter))
	var ids []string
	for attrType, attr := range filter {
		if attrType != pkcs11.CKA_ID && attrType != pkcs11.CKA_LABEL {
			rest[attrType] = attr
			continue
		}
		id := c.resolveID(attr.Value)
		if ids != nil && ids[0] != id {
			return rest, []string{}, nil
		}
		ids = []string{id}
	}
	if ids != nil {
		return rest, ids, nil
	}

	err := login.RunRead(ctx, func(ctx context.Context, client *nethsm.Client) error {
		var err error
		ids, err = client.ListKeys(ctx, "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(ids)
	return rest, ids, nil
}

// resolveID turns the value of CKA_ID or CKA_LABEL into a key
// identifier.
func (c *Catalog) resolveID(raw []byte) string {
	if id, ok := c.aliases.Get(objects.AliasFor(raw)); ok {
		return id
	}
	return string(raw)
}

var allKinds = []objects.Kind{objects.PrivateKey, objects.PublicKey, objects.SecretKey, objects.Certificate}

func kindsOf(filter objects.Attributes) ([]objects.Kind, error) {
	class, ok, err := filter.ULong(pkcs11.CKA_CLASS)
	if err != nil {
		return nil, err
	}
	if !ok {
		return allKinds, nil
	}
	kind, ok := objects.KindOfClass(class)
	if !ok {
		return nil, nil
	}
	return []objects.Kind{kind}, nil
}

// build returns the object ref names, or nil when the key does not have
// that kind.
func (c *Catalog) build(ref objects.Ref, key *storage.Key) (*objects.CryptoObject, error) {
	var object *objects.CryptoObject
	var err error
	if ref.Kind == objects.Certificate {
		if key.Certificate == nil {
			return nil, nil
		}
		object, err = objects.NewCertificateObject(ref, key.Certificate)
	} else {
		if !hasKind(objects.KindsOf(key.Meta), ref.Kind) {
			return nil, nil
		}
		object, err = objects.NewKeyObject(ref, key.Meta)
	}
	if err != nil {
		return nil, err
	}
	object.Handle = c.handles.Handle(ref)
	return object, nil
}

func hasKind(kinds []objects.Kind, kind objects.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (c *Catalog) remember(object *objects.CryptoObject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[object.Handle] = object
}

func (c *Catalog) forget(id string) {
	c.mu.Lock()
	for handle, object := range c.objects {
		if object.Ref.ID == id {
			delete(c.objects, handle)
		}
	}
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.DeleteKey(c.url, id); err != nil {
			c.log.Warnw("cannot drop cached key", "id", id, "error", err)
		}
	}
}

// fetch returns the metadata and certificate of a key, from the cache
// when it is fresh enough.
func (c *Catalog) fetch(ctx context.Context, login *LoginCtx, id string) (*storage.Key, error) {
	if c.cache != nil && c.ttl > 0 {
		key, err := c.cache.GetKey(c.url, id, c.ttl)
		if err == nil {
			return key, nil
		}
		if err != storage.ErrNotCached {
			c.log.Warnw("key cache read failed", "id", id, "error", err)
		}
	}

	key := &storage.Key{ID: id}
	err := login.RunRead(ctx, func(ctx context.Context, client *nethsm.Client) error {
		meta, err := client.GetKey(ctx, id)
		if err != nil {
			return err
		}
		cert, err := client.GetCertificate(ctx, id)
		if err != nil && !nethsm.IsNotFound(err) {
			return err
		}
		key.Meta, key.Certificate = meta, cert
		return nil
	})
	if err != nil {
		return nil, err
	}
	key.Fetched = time.Now()
	if c.cache != nil {
		if err := c.cache.SaveKey(c.url, key); err != nil {
			c.log.Warnw("key cache write failed", "id", id, "error", err)
		}
	}
	return key, nil
}

// Create imports a private key or stores a certificate. It needs the
// administrator role. Concurrent creates of one identifier share a
// single request.
func (c *Catalog) Create(ctx context.Context, login *LoginCtx, attrs objects.Attributes) ([]uint, error) {
	if !login.CanRun(Administrator) {
		return nil, ckr.NotLoggedInAs("Catalog.Create", Administrator.String())
	}
	class, ok, err := attrs.ULong(pkcs11.CKA_CLASS)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ckr.New("Catalog.Create", "CKA_CLASS is required", ckr.TemplateIncomplete)
	}
	id, alias := c.newID(attrs)

	result, err, _ := c.creates.Do(id, func() (interface{}, error) {
		switch class {
		case pkcs11.CKO_PRIVATE_KEY:
			key, err := privateKeyOf(attrs)
			if err != nil {
				return nil, err
			}
			err = login.Run(ctx, Administrator, func(ctx context.Context, client *nethsm.Client) error {
				return client.PutKey(ctx, id, key)
			})
			if err != nil {
				return nil, err
			}
		case pkcs11.CKO_CERTIFICATE:
			der, ok := attrs.Value(pkcs11.CKA_VALUE)
			if !ok || len(der) == 0 {
				return nil, ckr.New("Catalog.Create", "CKA_VALUE is required", ckr.TemplateIncomplete)
			}
			err := login.Run(ctx, Administrator, func(ctx context.Context, client *nethsm.Client) error {
				return client.PutCertificate(ctx, id, der)
			})
			if err != nil {
				return nil, err
			}
		default:
			return nil, ckr.New("Catalog.Create", "only private keys and certificates can be created", ckr.AttributeValueInvalid)
		}
		if alias != nil {
			c.aliases.SetFromAttribute(alias, id)
		}
		c.forget(id)
		c.log.Infow("object created", "id", id, "class", class)

		if class == pkcs11.CKO_CERTIFICATE {
			return []uint{c.handles.Handle(objects.Ref{Slot: c.slot, ID: id, Kind: objects.Certificate})}, nil
		}
		return []uint{
			c.handles.Handle(objects.Ref{Slot: c.slot, ID: id, Kind: objects.PrivateKey}),
			c.handles.Handle(objects.Ref{Slot: c.slot, ID: id, Kind: objects.PublicKey}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]uint), nil
}

// newID picks the identifier of a new object: the alias resolved CKA_ID,
// then CKA_LABEL, then a random one. Values that are not valid NetHSM
// identifiers get a random identifier and are returned as the alias to
// record once the object exists.
func (c *Catalog) newID(attrs objects.Attributes) (string, []byte) {
	for _, attrType := range []uint{pkcs11.CKA_ID, pkcs11.CKA_LABEL} {
		raw, ok := attrs.Value(attrType)
		if !ok || len(raw) == 0 {
			continue
		}
		if id, ok := c.aliases.Get(objects.AliasFor(raw)); ok {
			return id, nil
		}
		if isKeyID(raw) {
			return string(raw), nil
		}
		return randomID(), raw
	}
	return randomID(), nil
}

func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isKeyID(raw []byte) bool {
	if len(raw) > 128 {
		return false
	}
	for _, b := range raw {
		if !('a' <= b && b <= 'z' || 'A' <= b && b <= 'Z' || '0' <= b && b <= '9') {
			return false
		}
	}
	return true
}

// privateKeyOf builds the import request of a private key template.
func privateKeyOf(attrs objects.Attributes) (*nethsm.PrivateKey, error) {
	keyType, ok, err := attrs.ULong(pkcs11.CKA_KEY_TYPE)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ckr.New("privateKeyOf", "CKA_KEY_TYPE is required", ckr.TemplateIncomplete)
	}
	need := func(attrType uint, name string) ([]byte, error) {
		v, ok := attrs.Value(attrType)
		if !ok || len(v) == 0 {
			return nil, ckr.New("privateKeyOf", name+" is required", ckr.TemplateIncomplete)
		}
		return v, nil
	}

	switch keyType {
	case pkcs11.CKK_RSA:
		p, err := need(pkcs11.CKA_PRIME_1, "CKA_PRIME_1")
		if err != nil {
			return nil, err
		}
		q, err := need(pkcs11.CKA_PRIME_2, "CKA_PRIME_2")
		if err != nil {
			return nil, err
		}
		e, err := need(pkcs11.CKA_PUBLIC_EXPONENT, "CKA_PUBLIC_EXPONENT")
		if err != nil {
			return nil, err
		}
		return &nethsm.PrivateKey{
			Type: nethsm.KeyTypeRSA,
			Mechanisms: []nethsm.KeyMechanism{
				nethsm.MechanismRSASignaturePKCS1,
				nethsm.MechanismRSASignaturePSSSHA1,
				nethsm.MechanismRSASignaturePSSSHA224,
				nethsm.MechanismRSASignaturePSSSHA256,
				nethsm.MechanismRSASignaturePSSSHA384,
				nethsm.MechanismRSASignaturePSSSHA512,
				nethsm.MechanismRSADecryptionRAW,
				nethsm.MechanismRSADecryptionPKCS1,
			},
			Private: nethsm.KeyPrivateData{PrimeP: p, PrimeQ: q, PublicExponent: e},
		}, nil
	case pkcs11.CKK_EC, mechanism.CKK_EC_EDWARDS:
		params, err := need(pkcs11.CKA_EC_PARAMS, "CKA_EC_PARAMS")
		if err != nil {
			return nil, err
		}
		value, err := need(pkcs11.CKA_VALUE, "CKA_VALUE")
		if err != nil {
			return nil, err
		}
		curve, ok := objects.CurveKeyType(params)
		if !ok {
			return nil, ckr.New("privateKeyOf", "unsupported curve", ckr.AttributeValueInvalid)
		}
		edwards := curve == nethsm.KeyTypeCurve25519
		if edwards != (keyType == mechanism.CKK_EC_EDWARDS) {
			return nil, ckr.New("privateKeyOf", "curve does not match the key type", ckr.AttributeValueInvalid)
		}
		mech := nethsm.MechanismECDSASignature
		if edwards {
			mech = nethsm.MechanismEdDSASignature
		}
		return &nethsm.PrivateKey{
			Type:       curve,
			Mechanisms: []nethsm.KeyMechanism{mech},
			Private:    nethsm.KeyPrivateData{Data: value},
		}, nil
	}
	return nil, ckr.New("privateKeyOf", "unsupported key type", ckr.AttributeValueInvalid)
}

// Destroy removes the key or certificate behind a handle. Public keys
// cannot be destroyed on their own.
func (c *Catalog) Destroy(ctx context.Context, login *LoginCtx, handle uint) error {
	ref, ok := c.handles.Resolve(handle)
	if !ok || ref.Slot != c.slot {
		return ckr.New("Catalog.Destroy", "unknown object handle", ckr.ObjectHandleInvalid)
	}
	if ref.Kind == objects.PublicKey {
		return ckr.New("Catalog.Destroy", "public keys go with their private key", ckr.ActionProhibited)
	}
	if !login.CanRun(Administrator) {
		return ckr.NotLoggedInAs("Catalog.Destroy", Administrator.String())
	}
	err := login.Run(ctx, Administrator, func(ctx context.Context, client *nethsm.Client) error {
		if ref.Kind == objects.Certificate {
			return client.DeleteCertificate(ctx, ref.ID)
		}
		return client.DeleteKey(ctx, ref.ID)
	})
	if nethsm.IsNotFound(err) {
		c.handles.Forget(ref)
		return ckr.New("Catalog.Destroy", "object no longer exists", ckr.ObjectHandleInvalid)
	}
	if err != nil {
		return err
	}
	if ref.Kind == objects.Certificate {
		c.handles.Forget(ref)
	} else {
		c.handles.ForgetID(c.slot, ref.ID)
	}
	c.forget(ref.ID)
	c.log.Infow("object destroyed", "id", ref.ID, "kind", ref.Kind.String())
	return nil
}

// SetAttributes applies a write template. CKA_ID and CKA_LABEL become
// aliases of the object's identifier. Other attributes are stored on the
// NetHSM and cannot change, so they are ignored.
func (c *Catalog) SetAttributes(handle uint, attrs objects.Attributes) error {
	ref, ok := c.handles.Resolve(handle)
	if !ok || ref.Slot != c.slot {
		return ckr.New("Catalog.SetAttributes", "unknown object handle", ckr.ObjectHandleInvalid)
	}
	for attrType, attr := range attrs {
		if attrType != pkcs11.CKA_ID && attrType != pkcs11.CKA_LABEL {
			c.log.Debugw("attribute ignored", "type", attrType, "id", ref.ID)
			continue
		}
		alias := c.aliases.SetFromAttribute(attr.Value, ref.ID)
		c.log.Debugw("alias set", "alias", alias, "id", ref.ID)
	}
	return nil
}
