package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/miekg/pkcs11"
	"gopkg.in/yaml.v3"

	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/objects"
)

const serialSession = pkcs11.CKF_SERIAL_SESSION

type attributeView struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

type objectView struct {
	Handle     uint            `json:"handle" yaml:"handle"`
	Kind       string          `json:"kind" yaml:"kind"`
	Attributes []attributeView `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

type keyView struct {
	ID         string       `json:"id" yaml:"id"`
	Type       string       `json:"type" yaml:"type"`
	Size       int          `json:"size" yaml:"size"`
	Mechanisms []string     `json:"mechanisms,omitempty" yaml:"mechanisms,omitempty"`
	Objects    []objectView `json:"objects" yaml:"objects"`
}

type slotView struct {
	Slot   uint   `json:"slot" yaml:"slot"`
	Label  string `json:"label" yaml:"label"`
	URL    string `json:"url" yaml:"url"`
	Ready  bool   `json:"ready" yaml:"ready"`
	Serial string `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// render writes v as yaml or json, or as the table drawn by table when
// format is empty.
func render(w io.Writer, format string, v interface{}, table func(*tabwriter.Writer)) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}

var attributeNames = map[uint]string{
	pkcs11.CKA_CLASS:              "CKA_CLASS",
	pkcs11.CKA_TOKEN:              "CKA_TOKEN",
	pkcs11.CKA_PRIVATE:            "CKA_PRIVATE",
	pkcs11.CKA_LABEL:              "CKA_LABEL",
	pkcs11.CKA_VALUE:              "CKA_VALUE",
	pkcs11.CKA_CERTIFICATE_TYPE:   "CKA_CERTIFICATE_TYPE",
	pkcs11.CKA_ISSUER:             "CKA_ISSUER",
	pkcs11.CKA_SERIAL_NUMBER:      "CKA_SERIAL_NUMBER",
	pkcs11.CKA_KEY_TYPE:           "CKA_KEY_TYPE",
	pkcs11.CKA_SUBJECT:            "CKA_SUBJECT",
	pkcs11.CKA_ID:                 "CKA_ID",
	pkcs11.CKA_SENSITIVE:          "CKA_SENSITIVE",
	pkcs11.CKA_ENCRYPT:            "CKA_ENCRYPT",
	pkcs11.CKA_DECRYPT:            "CKA_DECRYPT",
	pkcs11.CKA_SIGN:               "CKA_SIGN",
	pkcs11.CKA_VERIFY:             "CKA_VERIFY",
	pkcs11.CKA_MODULUS:            "CKA_MODULUS",
	pkcs11.CKA_MODULUS_BITS:       "CKA_MODULUS_BITS",
	pkcs11.CKA_PUBLIC_EXPONENT:    "CKA_PUBLIC_EXPONENT",
	pkcs11.CKA_EXTRACTABLE:        "CKA_EXTRACTABLE",
	pkcs11.CKA_EC_PARAMS:          "CKA_EC_PARAMS",
	pkcs11.CKA_EC_POINT:           "CKA_EC_POINT",
	pkcs11.CKA_ALLOWED_MECHANISMS: "CKA_ALLOWED_MECHANISMS",
}

func attributeName(t uint) string {
	if name, ok := attributeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", t)
}

// sortedAttributes lists attrs in ascending type order.
func sortedAttributes(attrs objects.Attributes) []*pkcs11.Attribute {
	list := make([]*pkcs11.Attribute, 0, len(attrs))
	for t, attr := range attrs {
		list = append(list, pkcs11.NewAttribute(t, attr.Value))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
	return list
}

func newObjectView(object *objects.CryptoObject, withAttributes bool) objectView {
	view := objectView{Handle: object.Handle, Kind: object.Ref.Kind.String()}
	if !withAttributes {
		return view
	}
	for _, attr := range sortedAttributes(object.Attributes) {
		value := hex.EncodeToString(attr.Value)
		if attr.Type == pkcs11.CKA_LABEL {
			value = string(attr.Value)
		}
		view.Attributes = append(view.Attributes, attributeView{Type: attributeName(attr.Type), Value: value})
	}
	return view
}

// groupKeys folds the objects of one NetHSM key into a single view,
// keeping the order in which keys were first seen.
func groupKeys(found []*objects.CryptoObject, withAttributes bool) []*keyView {
	var keys []*keyView
	byID := make(map[string]*keyView)
	for _, object := range found {
		key, ok := byID[object.Ref.ID]
		if !ok {
			key = &keyView{ID: object.Ref.ID}
			byID[object.Ref.ID] = key
			keys = append(keys, key)
		}
		if object.Ref.Kind != objects.Certificate {
			key.Type = string(object.KeyType)
			key.Size = object.Size
			if key.Mechanisms == nil {
				for _, m := range object.Mechanisms {
					key.Mechanisms = append(key.Mechanisms, string(m))
				}
			}
		}
		key.Objects = append(key.Objects, newObjectView(object, withAttributes))
	}
	return keys
}

var mechanismNames = map[string]uint{
	"RSA-PKCS":            pkcs11.CKM_RSA_PKCS,
	"SHA1-RSA-PKCS":       pkcs11.CKM_SHA1_RSA_PKCS,
	"SHA224-RSA-PKCS":     pkcs11.CKM_SHA224_RSA_PKCS,
	"SHA256-RSA-PKCS":     pkcs11.CKM_SHA256_RSA_PKCS,
	"SHA384-RSA-PKCS":     pkcs11.CKM_SHA384_RSA_PKCS,
	"SHA512-RSA-PKCS":     pkcs11.CKM_SHA512_RSA_PKCS,
	"SHA1-RSA-PKCS-PSS":   pkcs11.CKM_SHA1_RSA_PKCS_PSS,
	"SHA224-RSA-PKCS-PSS": pkcs11.CKM_SHA224_RSA_PKCS_PSS,
	"SHA256-RSA-PKCS-PSS": pkcs11.CKM_SHA256_RSA_PKCS_PSS,
	"SHA384-RSA-PKCS-PSS": pkcs11.CKM_SHA384_RSA_PKCS_PSS,
	"SHA512-RSA-PKCS-PSS": pkcs11.CKM_SHA512_RSA_PKCS_PSS,
	"ECDSA":               pkcs11.CKM_ECDSA,
	"ECDSA-SHA1":          pkcs11.CKM_ECDSA_SHA1,
	"ECDSA-SHA224":        pkcs11.CKM_ECDSA_SHA224,
	"ECDSA-SHA256":        pkcs11.CKM_ECDSA_SHA256,
	"ECDSA-SHA384":        pkcs11.CKM_ECDSA_SHA384,
	"ECDSA-SHA512":        pkcs11.CKM_ECDSA_SHA512,
	"EDDSA":               mechanism.CKM_EDDSA,
}
