package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/coastalwhite/lemurs-sub000/internal/userdb"
)

var errUnsupportedHash = errors.New("unsupported password hash")

// validate checks the credential pair against the shadow database. Every
// failure collapses into ErrInvalidCredentials; the distinct causes only
// reach the log.
func (a *Authenticator) validate(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return ErrInvalidCredentials
	}

	sh, err := userdb.LoadShadow(a.shadowPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	se := sh.Find(username)
	if se == nil {
		a.log.Debug("credential validation failed: no shadow entry")
		return ErrInvalidCredentials
	}
	if se.Hash == "" || strings.HasPrefix(se.Hash, "!") || strings.HasPrefix(se.Hash, "*") {
		a.log.Debug("credential validation failed: account locked")
		return ErrInvalidCredentials
	}

	ok, err := verifyCrypt(se.Hash, password)
	if errors.Is(err, errUnsupportedHash) {
		// Ubuntu-style yescrypt and bcrypt hosts land here; defer to the
		// system itself through su behind a pty.
		ok, err = a.verifyWithSu(username, password)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !ok {
		a.log.Debug("credential validation failed: password mismatch")
		return ErrInvalidCredentials
	}
	return nil
}

// verifyCrypt supports the common crypt formats: $1$ (md5-crypt),
// $5$ (sha256-crypt), $6$ (sha512-crypt). Newer formats like yescrypt
// are detected and reported as unsupported.
func verifyCrypt(hash, password string) (bool, error) {
	crypters := []crypt.Crypter{
		sha512_crypt.New(),
		sha256_crypt.New(),
		md5_crypt.New(),
	}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}
	if strings.HasPrefix(hash, "$y$") || strings.HasPrefix(hash, "$7$") || strings.HasPrefix(hash, "$2") {
		return false, errUnsupportedHash
	}
	return false, nil
}
