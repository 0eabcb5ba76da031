package config

type Telegram struct {
	storage        string
	redisAddr      string
	redisPassword  string
	redisDB        int
	redisKeyPrefix string
	uploadDir      string
	maxUploadBytes int64
	defaultTarget  string
}

var _ TelegramConfig = Telegram{}

// GetSessionStorage returns where the Telegram client keeps its session blob:
// StorageFile, StorageRedis or StorageMemory.
func (t Telegram) GetSessionStorage() string {
	return t.storage
}

func (t Telegram) GetRedisAddr() string {
	return t.redisAddr
}

func (t Telegram) GetRedisPassword() string {
	return t.redisPassword
}

func (t Telegram) GetRedisDB() int {
	return t.redisDB
}

func (t Telegram) GetRedisKeyPrefix() string {
	return t.redisKeyPrefix
}

func (t Telegram) GetUploadDir() string {
	return t.uploadDir
}

func (t Telegram) GetMaxUploadBytes() int64 {
	return t.maxUploadBytes
}

func (t Telegram) GetDefaultTarget() string {
	return t.defaultTarget
}
