package library

import "github.com/whitecloud/save-agent/internal/server"

// RemoteGame is a catalogue ghost: a game the account owns on the server
// with no local install bound to it yet. It never runs the state machine;
// its visible state is always Cloud.
type RemoteGame struct {
	GameID          string
	Name            string
	CoverImgURL     *string
	SavePath        *string
	ExePath         string
	CloudSaveNum    int
	EnableCloudSave bool
	UpdateTime      int64
	Order           int
}

func remoteGameFrom(ug *server.UserGame) *RemoteGame {
	return &RemoteGame{
		GameID:          ug.GameID,
		Name:            ug.Name,
		CoverImgURL:     ug.GameCoverImgURL,
		SavePath:        ug.SavePath,
		ExePath:         ug.ExePath,
		CloudSaveNum:    ug.CloudSaveNum,
		EnableCloudSave: ug.EnableCloudSave,
		UpdateTime:      ug.UpdateTime,
		Order:           ug.Order,
	}
}

// State implements the visible-state accessor shared with Game.
func (r *RemoteGame) State() GameState { return StateCloud }
