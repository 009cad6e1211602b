package protocol

// Numeric transform and attribute identifiers, values per the IANA IKEv2
// registries (RFC 7296 and successors). Kept as a single file since they are
// pure registry data referenced throughout the wire codec and crypto suite.

type IdType uint8

const (
	ID_IPV4_ADDR    IdType = 1
	ID_FQDN         IdType = 2
	ID_RFC822_ADDR  IdType = 3
	ID_IPV6_ADDR    IdType = 5
	ID_DER_ASN1_DN  IdType = 9
	ID_DER_ASN1_GN  IdType = 10
	ID_KEY_ID       IdType = 11
)

type AuthMethod uint8

const (
	AUTH_RSA_DIGITAL_SIGNATURE              AuthMethod = 1
	AUTH_SHARED_KEY_MESSAGE_INTEGRITY_CODE  AuthMethod = 2
	AUTH_DSS_DIGITAL_SIGNATURE              AuthMethod = 3
	AUTH_ECDSA_256                          AuthMethod = 9
	AUTH_ECDSA_384                          AuthMethod = 10
	AUTH_ECDSA_521                          AuthMethod = 11
	AUTH_DIGITAL_SIGNATURE                  AuthMethod = 14
)

type HashAlgorithmId uint16

const (
	HASH_RESERVED  HashAlgorithmId = 0
	HASH_SHA1      HashAlgorithmId = 1
	HASH_SHA2_256  HashAlgorithmId = 2
	HASH_SHA2_384  HashAlgorithmId = 3
	HASH_SHA2_512  HashAlgorithmId = 4
)

type EncrTransformId uint16

const (
	ENCR_DES_IV64 EncrTransformId = 1
	ENCR_DES      EncrTransformId = 2
	ENCR_3DES     EncrTransformId = 3
	ENCR_RC5      EncrTransformId = 4
	ENCR_IDEA     EncrTransformId = 5
	ENCR_CAST     EncrTransformId = 6
	ENCR_BLOWFISH EncrTransformId = 7
	ENCR_3IDEA    EncrTransformId = 8
	ENCR_DES_IV32 EncrTransformId = 9
	ENCR_NULL     EncrTransformId = 11
	ENCR_AES_CBC  EncrTransformId = 12
	ENCR_AES_CTR  EncrTransformId = 13

	AEAD_AES_GCM_8           EncrTransformId = 18
	AEAD_AES_GCM_12          EncrTransformId = 19
	AEAD_AES_GCM_16          EncrTransformId = 20
	ENCR_NULL_AUTH_AES_GMAC  EncrTransformId = 21

	ENCR_CAMELLIA_CBC EncrTransformId = 23
	ENCR_CAMELLIA_CTR EncrTransformId = 24
)

type PrfTransformId uint16

const (
	PRF_HMAC_MD5      PrfTransformId = 1
	PRF_HMAC_SHA1     PrfTransformId = 2
	PRF_HMAC_TIGER    PrfTransformId = 3
	PRF_AES128_XCBC   PrfTransformId = 4
	PRF_HMAC_SHA2_256 PrfTransformId = 5
	PRF_HMAC_SHA2_384 PrfTransformId = 6
	PRF_HMAC_SHA2_512 PrfTransformId = 7
	PRF_AES128_CMAC   PrfTransformId = 8
)

type AuthTransformId uint16

const (
	AUTH_NONE               AuthTransformId = 0
	AUTH_HMAC_MD5_96        AuthTransformId = 1
	AUTH_HMAC_SHA1_96       AuthTransformId = 2
	AUTH_DES_MAC            AuthTransformId = 3
	AUTH_KPDK_MD5           AuthTransformId = 4
	AUTH_AES_XCBC_96        AuthTransformId = 5
	AUTH_HMAC_MD5_128       AuthTransformId = 6
	AUTH_HMAC_SHA1_160      AuthTransformId = 7
	AUTH_AES_CMAC_96        AuthTransformId = 8
	AUTH_AES_128_GMAC       AuthTransformId = 9
	AUTH_AES_192_GMAC       AuthTransformId = 10
	AUTH_AES_256_GMAC       AuthTransformId = 11
	AUTH_HMAC_SHA2_256_128  AuthTransformId = 12
	AUTH_HMAC_SHA2_384_192  AuthTransformId = 13
	AUTH_HMAC_SHA2_512_256  AuthTransformId = 14
)

type DhTransformId uint16

const (
	MODP_NONE  DhTransformId = 0
	MODP_768   DhTransformId = 1
	MODP_1024  DhTransformId = 2
	MODP_1536  DhTransformId = 5
	MODP_2048  DhTransformId = 14
	MODP_3072  DhTransformId = 15
	MODP_4096  DhTransformId = 16
	MODP_6144  DhTransformId = 17
	MODP_8192  DhTransformId = 18
	ECP_256    DhTransformId = 19
	ECP_384    DhTransformId = 20
	ECP_521    DhTransformId = 21
)

func (id DhTransformId) IsEcp() bool {
	return id == ECP_256 || id == ECP_384 || id == ECP_521
}

type NotificationType uint16

const (
	UNSUPPORTED_CRITICAL_PAYLOAD NotificationType = 1
	INVALID_IKE_SPI              NotificationType = 4
	INVALID_MAJOR_VERSION        NotificationType = 5
	INVALID_SYNTAX               NotificationType = 7
	INVALID_MESSAGE_ID           NotificationType = 9
	INVALID_SPI                  NotificationType = 11
	NO_PROPOSAL_CHOSEN           NotificationType = 14
	INVALID_KE_PAYLOAD           NotificationType = 17
	AUTHENTICATION_FAILED        NotificationType = 24
	SINGLE_PAIR_REQUIRED         NotificationType = 34
	NO_ADDITIONAL_SAS            NotificationType = 35
	INTERNAL_ADDRESS_FAILURE     NotificationType = 36
	FAILED_CP_REQUIRED           NotificationType = 37
	TS_UNACCEPTABLE              NotificationType = 38
	INVALID_SELECTORS            NotificationType = 39
	TEMPORARY_FAILURE            NotificationType = 43
	CHILD_SA_NOT_FOUND           NotificationType = 44

	INITIAL_CONTACT                NotificationType = 16384
	SET_WINDOW_SIZE                NotificationType = 16385
	NAT_DETECTION_SOURCE_IP        NotificationType = 16388
	NAT_DETECTION_DESTINATION_IP   NotificationType = 16389
	COOKIE                         NotificationType = 16390
	REKEY_SA                       NotificationType = 16393
	SIGNATURE_HASH_ALGORITHMS      NotificationType = 16431

	// R_U_THERE and R_U_THERE_ACK are the de facto IKEv1 dead peer detection
	// notify types (RFC 3706); they were never assigned a status-type code
	// point so vendors settled on these values.
	R_U_THERE     NotificationType = 36136
	R_U_THERE_ACK NotificationType = 36137
)
