package badgerstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

// Значение записи: 8 байт версии (big-endian) + zstd(cbor(storedRecord)).
// Версия лежит вне сжатого тела, чтобы проверка CAS не требовала распаковки.
const versionPrefixLen = 8

var errShortValue = errors.New("значение записи короче заголовка версии")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// zstd.Encoder и zstd.Decoder безопасны для конкурентного использования.
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Время с наносекундами: Unix-секунды теряют порядок событий внутри секунды
	encOptions.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOptions.EncMode(); err != nil {
		panic("badgerstore: инициализация CBOR-кодировщика: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("badgerstore: инициализация CBOR-декодера: " + err.Error())
	}

	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic("badgerstore: инициализация zstd: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic("badgerstore: инициализация zstd: " + err.Error())
	}
}

// storedRecord — форма записи в Badger.
type storedRecord struct {
	RecordID  string         `cbor:"recordId"`
	OwnerID   string         `cbor:"ownerId"`
	CreatedAt time.Time      `cbor:"createdAt"`
	UpdatedAt time.Time      `cbor:"updatedAt"`
	Document  model.Document `cbor:"document"`
}

// encodeRecord сериализует запись с указанной версией.
func encodeRecord(rec *model.Record, version int64) ([]byte, error) {
	body, err := encMode.Marshal(storedRecord{
		RecordID:  rec.RecordID,
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Document:  rec.Document(),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка CBOR-сериализации записи: %w", err)
	}

	out := make([]byte, versionPrefixLen, versionPrefixLen+len(body)/2)
	binary.BigEndian.PutUint64(out, uint64(version))
	return zstdEncoder.EncodeAll(body, out), nil
}

// decodeVersion читает версию без распаковки тела.
func decodeVersion(val []byte) (int64, error) {
	if len(val) < versionPrefixLen {
		return 0, errShortValue
	}
	return int64(binary.BigEndian.Uint64(val[:versionPrefixLen])), nil
}

// decodeRecord восстанавливает запись.
func decodeRecord(val []byte) (*model.Record, error) {
	version, err := decodeVersion(val)
	if err != nil {
		return nil, err
	}
	body, err := zstdDecoder.DecodeAll(val[versionPrefixLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки записи: %w", err)
	}

	var stored storedRecord
	if err := decMode.Unmarshal(body, &stored); err != nil {
		return nil, fmt.Errorf("ошибка CBOR-десериализации записи: %w", err)
	}

	rec := &model.Record{
		RecordID:  stored.RecordID,
		OwnerID:   stored.OwnerID,
		Version:   version,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}
	if err := rec.ApplyDocument(stored.Document); err != nil {
		return nil, fmt.Errorf("документ записи %s повреждён: %w", rec.RecordID, err)
	}
	return rec, nil
}

// storedPrincipal — форма principal в Badger.
type storedPrincipal struct {
	PrincipalID   string    `cbor:"principalId"`
	Username      string    `cbor:"username,omitempty"`
	WalletAddress string    `cbor:"walletAddress,omitempty"`
	DisplayName   string    `cbor:"displayName,omitempty"`
	CreatedAt     time.Time `cbor:"createdAt"`
	UpdatedAt     time.Time `cbor:"updatedAt"`
}

func encodePrincipal(p *model.Principal) ([]byte, error) {
	return encMode.Marshal(storedPrincipal(*p))
}

func decodePrincipal(val []byte) (*model.Principal, error) {
	var sp storedPrincipal
	if err := decMode.Unmarshal(val, &sp); err != nil {
		return nil, fmt.Errorf("ошибка CBOR-десериализации principal: %w", err)
	}
	p := model.Principal(sp)
	return &p, nil
}
