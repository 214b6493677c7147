package storage

import (
	"fmt"
	"path/filepath"
)

// Downloads keeps the last image received from each user.
type Downloads struct {
	Dir string
}

// Save overwrites the user's image file and returns its path. It is a no-op when Dir is empty.
func (d Downloads) Save(userID string, data []byte) (string, error) {
	if d.Dir == "" {
		return "", nil
	}
	if !safeID.MatchString(userID) {
		return "", fmt.Errorf("storage: user id %q is not file safe", userID)
	}
	p := filepath.Join(d.Dir, "image_"+userID+".jpg")
	if err := writeAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}
