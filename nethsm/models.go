package nethsm

// KeyType is the key algorithm as reported by the NetHSM.
type KeyType string

const (
	KeyTypeRSA        KeyType = "RSA"
	KeyTypeCurve25519 KeyType = "Curve25519"
	KeyTypeECP224     KeyType = "EC_P224"
	KeyTypeECP256     KeyType = "EC_P256"
	KeyTypeECP384     KeyType = "EC_P384"
	KeyTypeECP521     KeyType = "EC_P521"
	KeyTypeGeneric    KeyType = "Generic"
)

// KeyMechanism is an operation a key is allowed to perform.
type KeyMechanism string

const (
	MechanismRSADecryptionRAW        KeyMechanism = "RSA_Decryption_RAW"
	MechanismRSADecryptionPKCS1      KeyMechanism = "RSA_Decryption_PKCS1"
	MechanismRSADecryptionOAEPSHA256 KeyMechanism = "RSA_Decryption_OAEP_SHA256"
	MechanismRSASignaturePKCS1       KeyMechanism = "RSA_Signature_PKCS1"
	MechanismRSASignaturePSSMD5      KeyMechanism = "RSA_Signature_PSS_MD5"
	MechanismRSASignaturePSSSHA1     KeyMechanism = "RSA_Signature_PSS_SHA1"
	MechanismRSASignaturePSSSHA224   KeyMechanism = "RSA_Signature_PSS_SHA224"
	MechanismRSASignaturePSSSHA256   KeyMechanism = "RSA_Signature_PSS_SHA256"
	MechanismRSASignaturePSSSHA384   KeyMechanism = "RSA_Signature_PSS_SHA384"
	MechanismRSASignaturePSSSHA512   KeyMechanism = "RSA_Signature_PSS_SHA512"
	MechanismEdDSASignature          KeyMechanism = "EdDSA_Signature"
	MechanismECDSASignature          KeyMechanism = "ECDSA_Signature"
	MechanismAESEncryptionCBC        KeyMechanism = "AES_Encryption_CBC"
	MechanismAESDecryptionCBC        KeyMechanism = "AES_Decryption_CBC"
)

// SignMode selects the signature scheme of a sign request.
type SignMode string

const (
	SignModePKCS1     SignMode = "PKCS1"
	SignModePSSMD5    SignMode = "PSS_MD5"
	SignModePSSSHA1   SignMode = "PSS_SHA1"
	SignModePSSSHA224 SignMode = "PSS_SHA224"
	SignModePSSSHA256 SignMode = "PSS_SHA256"
	SignModePSSSHA384 SignMode = "PSS_SHA384"
	SignModePSSSHA512 SignMode = "PSS_SHA512"
	SignModeEdDSA     SignMode = "EdDSA"
	SignModeECDSA     SignMode = "ECDSA"
)

// KeyItem is an entry of the key listing.
type KeyItem struct {
	ID string `json:"id"`
}

// KeyRestrictions limits which users may use a key.
type KeyRestrictions struct {
	Tags []string `json:"tags,omitempty"`
}

// KeyPublicData holds the public part of a key. Byte fields are base64
// encoded by encoding/json.
type KeyPublicData struct {
	Modulus        []byte `json:"modulus,omitempty"`
	PublicExponent []byte `json:"publicExponent,omitempty"`
	Data           []byte `json:"data,omitempty"`
}

// PublicKey is the metadata the NetHSM returns for a stored key.
type PublicKey struct {
	Mechanisms   []KeyMechanism   `json:"mechanisms"`
	Type         KeyType          `json:"type"`
	Restrictions *KeyRestrictions `json:"restrictions,omitempty"`
	Public       *KeyPublicData   `json:"public,omitempty"`
	Operations   int              `json:"operations"`
}

// HasMechanism reports whether m is in the key's allowed set.
func (k *PublicKey) HasMechanism(m KeyMechanism) bool {
	for _, allowed := range k.Mechanisms {
		if allowed == m {
			return true
		}
	}
	return false
}

// KeyPrivateData is the private material of an imported key.
type KeyPrivateData struct {
	PrimeP         []byte `json:"primeP,omitempty"`
	PrimeQ         []byte `json:"primeQ,omitempty"`
	PublicExponent []byte `json:"publicExponent,omitempty"`
	Data           []byte `json:"data,omitempty"`
}

// PrivateKey is the body of a key import request.
type PrivateKey struct {
	Mechanisms   []KeyMechanism   `json:"mechanisms"`
	Type         KeyType          `json:"type"`
	Private      KeyPrivateData   `json:"private"`
	Restrictions *KeyRestrictions `json:"restrictions,omitempty"`
}

// SignRequest is the body of a sign request. Message is the base64
// encoding of the data to sign.
type SignRequest struct {
	Mode    SignMode `json:"mode"`
	Message string   `json:"message"`
}

// SignResponse carries the base64 encoded signature.
type SignResponse struct {
	Signature string `json:"signature"`
}

// RandomRequest asks for Length random bytes.
type RandomRequest struct {
	Length int `json:"length"`
}

// RandomResponse carries the base64 encoded random bytes.
type RandomResponse struct {
	Random string `json:"random"`
}

// InfoResponse describes the appliance.
type InfoResponse struct {
	Vendor  string `json:"vendor"`
	Product string `json:"product"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}
