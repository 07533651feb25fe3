package server

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// Service names the remote gateway routes requests by.
const (
	ServiceAuth     = "auth"
	ServiceBusiness = "business"
	ServicePayment  = "payment"
	ServiceRestful  = "restful"
)

// Push-notification event names.
const (
	NotifyGameUpdate        = "notifyGameUpdate"
	NotifyGameDeleted       = "notifyGameDeleted"
	NotifyGameSaveUpdate    = "notifyGameSaveUpdate"
	NotifyGameSaveDelete    = "notifyGameSaveDelete"
	NotifyGameHistoryUpdate = "notifyGameHistoryUpdate"
	NotifyStorageUpdate     = "notifyStorageUpdate"
	NotifyUserInfoUpdate    = "notifyUserInfoUpdate"
)

// UserGame is the remote catalogue entry for one game.
type UserGame struct {
	GameID          string  `json:"gameId"`
	Name            string  `json:"name"`
	GameCoverImgURL *string `json:"gameCoverImgUrl"`
	SavePath        *string `json:"savePath"`
	ExePath         string  `json:"exePath"`
	CloudSaveNum    int     `json:"cloudSaveNum"`
	EnableCloudSave bool    `json:"enableCloudSave"`
	UpdateTime      int64   `json:"updateTime"`
	Order           int     `json:"order"`
	Deleted         bool    `json:"deleted"`
}

// UserGameSave is the remote catalogue entry for one save.
type UserGameSave struct {
	SaveID        string  `json:"saveId"`
	GameID        string  `json:"gameId"`
	Size          int64   `json:"size"`
	Hostname      string  `json:"hostname"`
	OssPath       string  `json:"ossPath"`
	Remark        string  `json:"remark"`
	Stared        bool    `json:"stared"`
	CreateTime    int64   `json:"createTime"`
	UpdateTime    int64   `json:"updateTime"`
	DirectoryHash *string `json:"directoryHash"`
	ZipHash       *string `json:"zipHash"`
	DirectorySize *int64  `json:"directorySize"`
}

// GameHistory is one play session as the server records it.
type GameHistory struct {
	ID         string `json:"id"`
	GameID     string `json:"gameId"`
	Host       string `json:"host"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	CreateTime int64  `json:"createTime"`
}

// ClientVersion describes a published client build.
type ClientVersion struct {
	Version      string `json:"version"`
	ZipURL       string `json:"zipUrl"`
	IsFullUpdate bool   `json:"isFullUpdate"`
	Deprecated   bool   `json:"deprecated"`
}

// StorageUpdate reports account cloud-space usage.
type StorageUpdate struct {
	UsedSpace  int64 `json:"usedSpace"`
	TotalSpace int64 `json:"totalSpace"`
}

// GameDeleted is the payload of a game-deleted push.
type GameDeleted struct {
	GameID string `json:"gameId"`
}

// GameSaveDeleted is the payload of a save-deleted push.
type GameSaveDeleted struct {
	GameID string `json:"gameId"`
	SaveID string `json:"saveId"`
}

// SyncGameReq mirrors the server's syncGame request body.
type SyncGameReq struct {
	GameID          string  `json:"gameId"`
	Name            string  `json:"name"`
	GameCoverImgURL *string `json:"gameCoverImgUrl,omitempty"`
	SavePath        *string `json:"savePath,omitempty"`
	ExePath         string  `json:"exePath"`
	CloudSaveNum    int     `json:"cloudSaveNum,omitempty"`
	EnableCloudSave bool    `json:"enableCloudSave"`
	Order           int     `json:"order"`
}

// SyncGameSaveReq mirrors the server's syncGameSave request body.
type SyncGameSaveReq struct {
	GameID        string  `json:"gameId"`
	SaveID        string  `json:"saveId"`
	Remark        string  `json:"remark"`
	Stared        bool    `json:"stared"`
	Hostname      string  `json:"hostname"`
	CreateTime    int64   `json:"createTime"`
	UpdateTime    int64   `json:"updateTime"`
	DirectoryHash *string `json:"directoryHash,omitempty"`
	ZipHash       *string `json:"zipHash,omitempty"`
	DirectorySize *int64  `json:"directorySize,omitempty"`
}

// SaveSignature is the signed-upload grant for one save archive.
type SaveSignature struct {
	Dir       string `json:"dir"`
	Callback  string `json:"callback"`
	Host      string `json:"host"`
	Signature string `json:"signature"`
	Policy    string `json:"policy"`
	AccessKey string `json:"accessKey"`
}

// SaveSignatureReq asks for an upload grant carrying the save's metadata.
type SaveSignatureReq struct {
	GameID        string  `json:"gameId"`
	SaveID        string  `json:"saveId"`
	Remark        string  `json:"remark"`
	Stared        bool    `json:"stared"`
	Hostname      string  `json:"hostname"`
	Size          int64   `json:"size"`
	CreateTime    int64   `json:"createTime"`
	DirectoryHash *string `json:"directoryHash,omitempty"`
	ZipHash       *string `json:"zipHash,omitempty"`
	DirectorySize *int64  `json:"directorySize,omitempty"`
}

// HistoryEntry is the per-session body of a syncGameHistory push.
type HistoryEntry struct {
	ID        string `json:"id"`
	GameID    string `json:"gameId"`
	Host      string `json:"host"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// LoginResult is the subset of the auth login response the agent uses.
type LoginResult struct {
	Account struct {
		ID       int64   `json:"id"`
		Nickname *string `json:"nickname"`
		Disabled bool    `json:"disabled"`
	} `json:"account"`
	Authorization struct {
		Token    string `json:"token"`
		ExpireAt int64  `json:"expireAt"`
	} `json:"authorization"`
	Storage StorageUpdate `json:"storage"`
}

// Business exposes the business-service operations as typed calls. It holds
// no state beyond the client and performs no interpretation of the payloads.
type Business struct {
	c *Client
}

// Auth exposes the auth-service operations.
type Auth struct {
	c *Client
}

func (c *Client) Business() *Business { return &Business{c: c} }
func (c *Client) Auth() *Auth { return &Auth{c: c} }

func (b *Business) SyncGame(req *SyncGameReq) (*UserGame, error) {
	out := &UserGame{}
	if err := b.c.Call(ServiceBusiness, "syncGame", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) FetchUserGame() ([]UserGame, error) {
	var out []UserGame
	if err := b.c.Call(ServiceBusiness, "fetchUserGame", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) RemoveGame(gameID string) error {
	return b.c.Call(ServiceBusiness, "removeGame", map[string]string{"gameId": gameID}, nil)
}

func (b *Business) FetchGameSave(gameID string) ([]UserGameSave, error) {
	var out []UserGameSave
	if err := b.c.Call(ServiceBusiness, "fetchGameSave", map[string]string{"gameId": gameID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) SyncGameSave(req *SyncGameSaveReq) error {
	return b.c.Call(ServiceBusiness, "syncGameSave", req, nil)
}

func (b *Business) DeleteGameSave(gameID, saveID string) error {
	return b.c.Call(ServiceBusiness, "deleteGameSave", map[string]string{"gameId": gameID, "saveId": saveID}, nil)
}

func (b *Business) ClearGameSaves(gameID string) error {
	return b.c.Call(ServiceBusiness, "clearGameSaves", map[string]string{"gameId": gameID}, nil)
}

func (b *Business) SyncGameHistory(history []HistoryEntry) ([]GameHistory, error) {
	var out []GameHistory
	req := map[string]any{"history": history}
	if err := b.c.Call(ServiceBusiness, "syncGameHistory", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) FetchGameHistory(gameID string, lastSyncTime int64) ([]GameHistory, error) {
	var out []GameHistory
	req := map[string]any{"gameId": gameID, "lastSyncTime": lastSyncTime}
	if err := b.c.Call(ServiceBusiness, "fetchGameHistory", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) GenerateGameSaveSignature(req *SaveSignatureReq) (*SaveSignature, error) {
	out := &SaveSignature{}
	if err := b.c.Call(ServiceBusiness, "generateGameSaveSignature", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Business) SignGameSaveURL(ossPath string) (string, error) {
	out := struct {
		URL string `json:"url"`
	}{}
	if err := b.c.Call(ServiceBusiness, "signGameSaveUrl", map[string]string{"url": ossPath}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (b *Business) FetchLatestClientVersion() (*ClientVersion, error) {
	out := &ClientVersion{}
	if err := b.c.Call(ServiceBusiness, "fetchLatestClientVersion", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Auth) Login(username, password string) (*LoginResult, error) {
	out := &LoginResult{}
	req := map[string]any{"username": username, "password": password, "type": 2}
	if err := a.c.Call(ServiceAuth, "login", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Auth) ReconnectLogin() (*LoginResult, error) {
	out := &LoginResult{}
	if err := a.c.Call(ServiceAuth, "reconnectLogin", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Auth) Logout() error {
	return a.c.Call(ServiceAuth, "logout", nil, nil)
}

// SubscribeNotify registers a typed handler for a named push event. Payloads
// that fail to decode are logged and dropped.
func SubscribeNotify[T any](c *Client, method string, fn func(T)) func() {
	return c.Notify(method).Subscribe(func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Errorf("failed to decode %s payload: %v", method, err)
			return
		}
		fn(v)
	})
}
