package chainvault

import (
	"crypto/ed25519"
	"errors"
	"time"
)

// UserStatusKind mirrors original_source/auth/src/login.rs's UserStatus enum:
// a freshly registered account starts Unverified, an operator can Lock it
// until a point in time, and Nominal accounts may log in freely.
type UserStatusKind int

const (
	UserNominal UserStatusKind = iota
	UserLocked
	UserUnverified
)

// UserRecord is the row the login service loads by email (spec §8 scenario
// S6). Key material is stored as exported plain fields rather than
// EncryptKey/PrivateKey directly, since gob only serializes exported fields
// (same shape as session.go's wireSessionProperty).
type UserRecord struct {
	Email       string
	Status      UserStatusKind
	LockedUntil time.Time

	NominalReadSize KeySize
	NominalReadRaw  []byte

	NominalWritePublic  ed25519.PublicKey
	NominalWritePrivate ed25519.PrivateKey
}

func (u UserRecord) nominalRead() EncryptKey {
	return EncryptKey{size: u.NominalReadSize, raw: u.NominalReadRaw}
}

func (u UserRecord) nominalWrite() PrivateKey {
	return PrivateKey{Public: PublicKey{Raw: u.NominalWritePublic}, raw: u.NominalWritePrivate}
}

// NewUserRecord packages a nominal key pair into a storable row, for use by
// account registration (not itself part of the core's login contract).
func NewUserRecord(email string, status UserStatusKind, nominalRead EncryptKey, nominalWrite PrivateKey) UserRecord {
	return UserRecord{
		Email:               email,
		Status:              status,
		NominalReadSize:     nominalRead.size,
		NominalReadRaw:      nominalRead.raw,
		NominalWritePublic:  nominalWrite.Public.Raw,
		NominalWritePrivate: nominalWrite.raw,
	}
}

// LoginRequest carries the credentials the auth service's core contract
// consumes, matching original_source/auth/src/login.rs's LoginRequest.
type LoginRequest struct {
	Email  string
	Secret EncryptKey
	Code   *string
}

// LoginResponse hands back the caller's nominal keys on success, enough to
// build a Session for the user's own chains.
type LoginResponse struct {
	UserKey      PrimaryKey
	NominalRead  EncryptKey
	NominalWrite PrivateKey
}

// LoginService is the core-side half of the external "authentication/login
// service" collaborator named in spec §1: it knows how to derive a user's
// super key and load their row, but carries none of the CLI/2FA-prompting
// behavior that belongs to the service itself.
type LoginService struct {
	MasterSession *Session
	Chain         *Chain
	Pipeline      *Pipeline
	LoadCacheSize int
}

// NewLoginService binds a master session (holding the chain's root read key)
// to the chain the user rows live in.
func NewLoginService(masterSession *Session, chain *Chain, pipeline *Pipeline) *LoginService {
	return &LoginService{MasterSession: masterSession, Chain: chain, Pipeline: pipeline, LoadCacheSize: 128}
}

// ComputeSuperKey mirrors AuthService::compute_super_key: the master read
// key is folded with secret via the double-hash construction and stretched
// back out to a 256-bit key. ok is false when the service holds no master
// read key at all.
func (s *LoginService) ComputeSuperKey(secret EncryptKey) (key EncryptKey, ok bool) {
	readKeys := s.MasterSession.ReadKeys()
	if len(readKeys) == 0 {
		return EncryptKey{}, false
	}
	masterKey := readKeys[0]
	h := FromBytesTwice(masterKey.raw, secret.raw)
	superKey, err := EncryptKeyFromSeed(h[:], KeySize256)
	if err != nil {
		return EncryptKey{}, false
	}
	return superKey, true
}

// RegisterUser stages and commits a new user row sealed to the email's
// super key (spec §8 scenario S6): the row's read authorization names
// exactly ComputeSuperKey(secret)'s hash, so Login's superSession can
// decrypt it back only when given the right secret — a wrong one leaves
// RowEncryptionTransformer
// unable to open the row, surfacing as LoadErrMissingReadKey below.
func (s *LoginService) RegisterUser(email string, secret EncryptKey, status UserStatusKind, lockedUntil time.Time, nominalRead EncryptKey, nominalWrite PrivateKey) error {
	superKey, ok := s.ComputeSuperKey(secret)
	if !ok {
		return &LoginFailed{Kind: LoginErrNoMasterKey}
	}

	dio, err := NewDio(s.Chain, NewSession().WithReadKey(superKey), ScopeLocal, s.Pipeline, s.LoadCacheSize)
	if err != nil {
		return err
	}
	record := NewUserRecord(email, status, nominalRead, nominalWrite)
	record.LockedUntil = lockedUntil
	dao, err := StoreExt[UserRecord](dio, record, FormatBinary, PrimaryKeyFromString(email))
	if err != nil {
		return err
	}
	dao.SetAuthorization(MetaAuthorization{ReadHashes: []Hash{superKey.Hash()}})
	if err := dao.Commit(); err != nil {
		return err
	}
	return dio.Commit()
}

// Login implements process_login's core path (spec §8 scenario S6): derive
// the super key, open a Dio under a session holding it, load the user row,
// and check its status before releasing the nominal keys. An unknown email
// (LoginErrUserNotFound) and a wrong secret (LoginErrWrongPasswordOrCode)
// fail before the row is decrypted; the locked and unverified checks run on
// the decrypted row and return their own error kinds.
func (s *LoginService) Login(req LoginRequest) (*LoginResponse, error) {
	superKey, ok := s.ComputeSuperKey(req.Secret)
	if !ok {
		return nil, &LoginFailed{Kind: LoginErrNoMasterKey}
	}

	superSession := NewSession().WithReadKey(superKey)
	if req.Code != nil {
		superSuperKey, ok := s.ComputeSuperKey(superKey)
		if !ok {
			return nil, &LoginFailed{Kind: LoginErrNoMasterKey}
		}
		superSession.WithReadKey(superSuperKey)
	}

	dio, err := NewDio(s.Chain, superSession, ScopeNone, s.Pipeline, s.LoadCacheSize)
	if err != nil {
		return nil, &LoginFailed{Kind: LoginErrWrongPasswordOrCode, Cause: err}
	}

	userKey := PrimaryKeyFromString(req.Email)
	userDao, err := Load[UserRecord](dio, userKey)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			switch le.Kind {
			case LoadErrNotFound, LoadErrAlreadyDeleted:
				return nil, &LoginFailed{Kind: LoginErrUserNotFound, Email: req.Email}
			case LoadErrMissingReadKey:
				return nil, &LoginFailed{Kind: LoginErrWrongPasswordOrCode}
			}
		}
		return nil, &LoginFailed{Kind: LoginErrWrongPasswordOrCode, Cause: err}
	}

	user := userDao.Data
	switch user.Status {
	case UserLocked:
		if time.Now().Before(user.LockedUntil) {
			return nil, &LoginFailed{Kind: LoginErrAccountLocked, Locked: time.Until(user.LockedUntil)}
		}
	case UserUnverified:
		return nil, &LoginFailed{Kind: LoginErrUnverified, Email: req.Email}
	}

	return &LoginResponse{
		UserKey:      userKey,
		NominalRead:  user.nominalRead(),
		NominalWrite: user.nominalWrite(),
	}, nil
}
