package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"wuyrush.io/vtourist/common/logging"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	md "wuyrush.io/vtourist/models"
)

// RecordStore persists pins and the photos they own.
type RecordStore interface {
	SavePin(p *md.Pin) *se.Err
	GetPin(pinID string) (*md.Pin, *se.Err)
	ListPins() ([]*md.Pin, *se.Err)
	// DeletePin deletes the pin and all its photo records. DeletePin must be idempotent
	DeletePin(pinID string) *se.Err
	// SavePhotos saves photos of the given pin. Photos must all belong to that pin
	SavePhotos(pinID string, photos []*md.Photo) *se.Err
	GetPhoto(pinID, photoID string) (*md.Photo, *se.Err)
	ListPhotos(pinID string) ([]*md.Photo, *se.Err)
	CountPhotos(pinID string) (int, *se.Err)
	// DeletePhoto deletes a single photo record. DeletePhoto must be idempotent
	DeletePhoto(pinID, photoID string) *se.Err
	// CountFileRefs counts the photo records, across all pins, referring to the image of the given file id
	CountFileRefs(fileID string) (int, *se.Err)
	Close() *se.Err
}

// RedisStore is a RecordStore implementation driven by Redis.
type RedisStore struct {
	DB *redis.Client
}

const (
	fieldNameTitle        = "title"
	fieldNameLatitude     = "latitude"
	fieldNameLongitude    = "longitude"
	fieldNameCreationTime = "creationTime"
	fieldNamePinID        = "pinId"
	fieldNameImagePath    = "imagePath"
	fieldNameFileID       = "fileId"

	// redis key of the set holding all pin ids
	keyPins = "pins"
	// hash holding pin data
	keyTmplPin = "pin:%s"
	// set holding ids of a pin's photos
	keyTmplPinPhotos = "pin:%s:photos"
	// hash holding photo data
	keyTmplPhoto = "photo:%s:%s"
	// set holding the photos referring to an image file, as pinId:photoId
	keyTmplFilePhotos = "file:%s:photos"
)

func pinKey(pinID string) string            { return fmt.Sprintf(keyTmplPin, pinID) }
func pinPhotosKey(pinID string) string      { return fmt.Sprintf(keyTmplPinPhotos, pinID) }
func photoKey(pinID, photoID string) string { return fmt.Sprintf(keyTmplPhoto, pinID, photoID) }
func filePhotosKey(fileID string) string    { return fmt.Sprintf(keyTmplFilePhotos, fileID) }
func photoRef(pinID, photoID string) string { return pinID + ":" + photoID }

func (s *RedisStore) SavePin(p *md.Pin) *se.Err {
	const errMsg = "error saving pin"
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, p.ID)
	ct, err := p.CreationTime.MarshalText()
	if err != nil {
		clog.WithError(err).Error("error marshalling pin creation time")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	if _, err := s.DB.TxPipelined(func(pl redis.Pipeliner) error {
		pl.HMSet(pinKey(p.ID), map[string]interface{}{
			fieldNameTitle:        p.Title,
			fieldNameLatitude:     strconv.FormatFloat(p.Latitude, 'f', -1, 64),
			fieldNameLongitude:    strconv.FormatFloat(p.Longitude, 'f', -1, 64),
			fieldNameCreationTime: string(ct),
		})
		pl.SAdd(keyPins, p.ID)
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling Redis to save pin")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisStore) GetPin(pinID string) (*md.Pin, *se.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	m, err := s.DB.HGetAll(pinKey(pinID)).Result()
	if err != nil {
		msg := "error getting pin data"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	// redis returns an empty map for non-existent keys
	if len(m) == 0 {
		return nil, se.NewNotFound(fmt.Sprintf("pin %s not found", pinID))
	}
	p := &md.Pin{ID: pinID, Title: m[fieldNameTitle]}
	if p.Latitude, err = strconv.ParseFloat(m[fieldNameLatitude], 64); err != nil {
		msg := "error unmarshalling pin latitude"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	if p.Longitude, err = strconv.ParseFloat(m[fieldNameLongitude], 64); err != nil {
		msg := "error unmarshalling pin longitude"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	var t time.Time
	if err := t.UnmarshalText([]byte(m[fieldNameCreationTime])); err != nil {
		msg := "error unmarshalling pin creation time"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	p.CreationTime = t
	return p, nil
}

func (s *RedisStore) ListPins() ([]*md.Pin, *se.Err) {
	clog := logging.WithFuncName()
	ids, err := s.DB.SMembers(keyPins).Result()
	if err != nil {
		msg := "error listing pin ids"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	pins := make([]*md.Pin, 0, len(ids))
	for _, id := range ids {
		p, perr := s.GetPin(id)
		if perr != nil {
			// the pin might be deleted after we listed the ids
			if perr.Code == se.ErrCodeNotFound {
				continue
			}
			return nil, perr
		}
		pins = append(pins, p)
	}
	return pins, nil
}

func (s *RedisStore) DeletePin(pinID string) *se.Err {
	const errMsg = "error deleting pin"
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	photoIDs, err := s.DB.SMembers(pinPhotosKey(pinID)).Result()
	if err != nil {
		clog.WithError(err).Error("error calling Redis to list photo ids")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	fileIDs, ferr := s.fileIDs(pinID, photoIDs)
	if ferr != nil {
		clog.WithError(ferr).Error("error calling Redis to get file ids of photos")
		return se.NewServiceFailure(errMsg).WithCause(ferr)
	}
	keys := make([]string, 0, len(photoIDs)+2)
	for _, id := range photoIDs {
		keys = append(keys, photoKey(pinID, id))
	}
	keys = append(keys, pinPhotosKey(pinID), pinKey(pinID))
	// redis ignores the error upon DEL and SREM if the key is non-existent
	if _, err := s.DB.TxPipelined(func(pl redis.Pipeliner) error {
		for i, id := range photoIDs {
			if fileIDs[i] != "" {
				pl.SRem(filePhotosKey(fileIDs[i]), photoRef(pinID, id))
			}
		}
		pl.Del(keys...)
		pl.SRem(keyPins, pinID)
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling Redis to delete pin")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisStore) SavePhotos(pinID string, photos []*md.Photo) *se.Err {
	const errMsg = "error saving photos"
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	if len(photos) == 0 {
		return nil
	}
	for _, p := range photos {
		if p.PinID != pinID {
			return se.NewBadInput(fmt.Sprintf("photo %s belongs to pin %s instead of %s", p.ID, p.PinID, pinID))
		}
	}
	exists, err := s.DB.Exists(pinKey(pinID)).Result()
	if err != nil {
		clog.WithError(err).Error("error calling Redis to check pin existence")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	if exists == 0 {
		return se.NewNotFound(fmt.Sprintf("pin %s not found", pinID))
	}
	if _, err := s.DB.TxPipelined(func(pl redis.Pipeliner) error {
		ids := make([]interface{}, len(photos))
		for i, p := range photos {
			pl.HMSet(photoKey(pinID, p.ID), map[string]interface{}{
				fieldNamePinID:     p.PinID,
				fieldNameTitle:     p.Title,
				fieldNameImagePath: p.ImagePath,
				fieldNameFileID:    p.FileID,
			})
			if p.FileID != "" {
				pl.SAdd(filePhotosKey(p.FileID), photoRef(pinID, p.ID))
			}
			ids[i] = p.ID
		}
		pl.SAdd(pinPhotosKey(pinID), ids...)
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling Redis to save photos")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisStore) GetPhoto(pinID, photoID string) (*md.Photo, *se.Err) {
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID).WithField(cst.LogFieldPhotoID, photoID)
	m, err := s.DB.HGetAll(photoKey(pinID, photoID)).Result()
	if err != nil {
		msg := "error getting photo data"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	if len(m) == 0 {
		return nil, se.NewNotFound(fmt.Sprintf("photo %s of pin %s not found", photoID, pinID))
	}
	return photoFromFields(pinID, photoID, m), nil
}

func photoFromFields(pinID, photoID string, m map[string]string) *md.Photo {
	return &md.Photo{
		ID:        photoID,
		PinID:     pinID,
		Title:     m[fieldNameTitle],
		ImagePath: m[fieldNameImagePath],
		FileID:    m[fieldNameFileID],
	}
}

func (s *RedisStore) ListPhotos(pinID string) ([]*md.Photo, *se.Err) {
	const errMsg = "error listing photos"
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID)
	ids, err := s.DB.SMembers(pinPhotosKey(pinID)).Result()
	if err != nil {
		clog.WithError(err).Error("error calling Redis to list photo ids")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	if len(ids) == 0 {
		return []*md.Photo{}, nil
	}
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	if _, err := s.DB.Pipelined(func(pl redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pl.HGetAll(photoKey(pinID, id))
		}
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling Redis to get photos")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	photos := make([]*md.Photo, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			// deleted in between
			continue
		}
		photos = append(photos, photoFromFields(pinID, ids[i], m))
	}
	return photos, nil
}

func (s *RedisStore) CountPhotos(pinID string) (int, *se.Err) {
	n, err := s.DB.SCard(pinPhotosKey(pinID)).Result()
	if err != nil {
		msg := "error counting photos"
		logging.WithFuncName().WithField(cst.LogFieldPinID, pinID).WithError(err).Error(msg)
		return 0, se.NewServiceFailure(msg).WithCause(err)
	}
	return int(n), nil
}

func (s *RedisStore) DeletePhoto(pinID, photoID string) *se.Err {
	const errMsg = "error deleting photo"
	clog := logging.WithFuncName().WithField(cst.LogFieldPinID, pinID).WithField(cst.LogFieldPhotoID, photoID)
	fileIDs, err := s.fileIDs(pinID, []string{photoID})
	if err != nil {
		clog.WithError(err).Error("error calling Redis to get file id of photo")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	if _, err := s.DB.TxPipelined(func(pl redis.Pipeliner) error {
		if fileIDs[0] != "" {
			pl.SRem(filePhotosKey(fileIDs[0]), photoRef(pinID, photoID))
		}
		pl.Del(photoKey(pinID, photoID))
		pl.SRem(pinPhotosKey(pinID), photoID)
		return nil
	}); err != nil {
		clog.WithError(err).Error(errMsg)
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisStore) CountFileRefs(fileID string) (int, *se.Err) {
	n, err := s.DB.SCard(filePhotosKey(fileID)).Result()
	if err != nil {
		msg := "error counting image references"
		logging.WithFuncName().WithField(cst.LogFieldFileID, fileID).WithError(err).Error(msg)
		return 0, se.NewServiceFailure(msg).WithCause(err)
	}
	return int(n), nil
}

// fileIDs returns the file id of each photo, in order. Photos without a record or without an image yield an empty
// string.
func (s *RedisStore) fileIDs(pinID string, photoIDs []string) ([]string, error) {
	fileIDs := make([]string, len(photoIDs))
	if len(photoIDs) == 0 {
		return fileIDs, nil
	}
	cmds := make([]*redis.StringCmd, len(photoIDs))
	if _, err := s.DB.Pipelined(func(pl redis.Pipeliner) error {
		for i, id := range photoIDs {
			cmds[i] = pl.HGet(photoKey(pinID, id), fieldNameFileID)
		}
		return nil
	}); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, cmd := range cmds {
		// redis.Nil for absent records or fields
		fileIDs[i] = cmd.Val()
	}
	return fileIDs, nil
}

func (s *RedisStore) Close() *se.Err {
	if err := s.DB.Close(); err != nil {
		return se.NewServiceFailure("failed close Redis client").WithCause(err)
	}
	return nil
}
