package store

// GameRow is the persisted shape of a library entry.
type GameRow struct {
	ID                       string
	Name                     string
	GamePath                 string
	SavePath                 string // encoded, may start with a well-known root tag
	ExeFile                  string // relative to GamePath
	CreateTime               int64
	CoverImgURL              string
	LocalSaveNum             int
	Order                    int
	UpdateTime               int64
	LastHistorySyncTime      int64
	SaveBackupLimit          int // megabytes
	UseCustomSaveBackupLimit bool
}

// SaveRow is the persisted shape of one backup.
type SaveRow struct {
	ID            string
	GameID        string
	CreateTime    int64
	UpdateTime    int64
	Remark        string
	Hostname      string
	Size          int64
	Stared        bool
	DirectoryHash *string
	ZipHash       *string
	DirectorySize *int64
	OssPath       *string
}

// HistoryRow is one play session. Synced is 0 while the row still needs a
// push to the server, 1 once acknowledged either way.
type HistoryRow struct {
	ID         string
	GameID     string
	Host       string
	StartTime  int64
	EndTime    int64
	Synced     int
	CreateTime int64
}

// ActivityRow is one append-only backup/sync event.
type ActivityRow struct {
	ID        int64
	GameID    string
	Type      string
	Data      string // JSON payload
	CreatedAt int64
}

// GuideRow holds the per-game guide note.
type GuideRow struct {
	GameID    string
	Content   string
	AlwaysTop bool
}
