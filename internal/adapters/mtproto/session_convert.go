package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat: формат сессии аккаунта не распознан.
var ErrUnsupportedSessionFormat = errors.New("неподдерживаемый формат MTProto-сессии")

// sessionConverters пробуются по порядку; первый успешный результат используется.
var sessionConverters = []func([]byte) ([]byte, error){
	passGotdJSON,
	convertTelethonAccountJSON,
	convertTelethonRowsJSON,
	convertTelethonString,
}

// NormalizeSession приводит сессию аккаунта (строка Telethon, экспорт Telethon в JSON
// или JSON gotd) к формату gotd session.Storage.
func NormalizeSession(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("пустая MTProto-сессия: %w", ErrUnsupportedSessionFormat)
	}
	for _, convert := range sessionConverters {
		if out, err := convert(trimmed); err == nil {
			return out, nil
		}
	}
	return nil, ErrUnsupportedSessionFormat
}

func passGotdJSON(raw []byte) ([]byte, error) {
	var probe struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if probe.Version == 0 {
		return nil, errors.New("not a gotd session")
	}
	return append([]byte(nil), raw...), nil
}

func convertTelethonAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("no extra_params")
	}
	return convertTelethonString([]byte(account.ExtraParams))
}

func convertTelethonRowsJSON(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return sessionFromHexKey(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, errors.New("no usable rows")
}

func convertTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'")
	if candidate == "" {
		return nil, errors.New("empty string session")
	}
	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return marshalSession(*data)
}

func sessionFromHexKey(dcID int, host string, port int, authKeyHex string) ([]byte, error) {
	rawKey, err := hex.DecodeString(strings.Trim(strings.TrimSpace(authKeyHex), "'\""))
	if err != nil {
		return nil, fmt.Errorf("decode auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("auth_key: ожидалось %d байт, получено %d", len(key), len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return marshalSession(session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func marshalSession(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
