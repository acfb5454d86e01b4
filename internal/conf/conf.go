package conf

// Bootstrap 应用的顶层配置
type Bootstrap struct {
	Server   *Server   `json:"server"`
	Data     *Data     `json:"data"`
	Telegram *Telegram `json:"telegram"`
	Cache    *Cache    `json:"cache"`
	Auth     *Auth     `json:"auth"`
	Log      *Log      `json:"log"`
	Trace    *Trace    `json:"trace"`
	Registry *Registry `json:"registry"`
}

type Server struct {
	Http *HTTP `json:"http"`
}

type HTTP struct {
	Addr string `json:"addr"`
}

// Data 数据源配置，Redis 仅在 cache.backend 为 redis 时必须
type Data struct {
	Redis *Redis `json:"redis"`
}

type Redis struct {
	Host         string `json:"host"`
	Port         int32  `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Db           int32  `json:"db"`
	DialTimeout  int32  `json:"dial_timeout"`
	ReadTimeout  int32  `json:"read_timeout"`
	WriteTimeout int32  `json:"write_timeout"`
	PoolSize     int32  `json:"pool_size"`
	MinIdleConns int32  `json:"min_idle_conns"`
}

// Telegram 后端客户端配置
type Telegram struct {
	ApiId         int32  `json:"api_id"`
	ApiHash       string `json:"api_hash"`
	BridgeUrl     string `json:"bridge_url"`
	SessionsDir   string `json:"sessions_dir"`
	DialogsLimit  int32  `json:"dialogs_limit"`
	MinIntervalMs int32  `json:"min_interval_ms"`
}

// Cache 结果缓存配置，backend 取 memory 或 redis
type Cache struct {
	Backend            string `json:"backend"`
	DialogsTtlSeconds  int32  `json:"dialogs_ttl_seconds"`
	MessagesTtlSeconds int32  `json:"messages_ttl_seconds"`
}

type Auth struct {
	JwtSecret      string `json:"jwt_secret"`
	JwtExpireHours int32  `json:"jwt_expire_hours"`
}

type Log struct {
	Level string `json:"level"`
}

// Trace OTLP 导出配置，Endpoint 为空时禁用
type Trace struct {
	Endpoint    string  `json:"endpoint"`
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sample_ratio"`
}

// Registry Consul 注册中心配置
type Registry struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	ServiceHost string `json:"service_host"`
	ServicePort int32  `json:"service_port"`
}

// DefaultDialogsLimit 单次拉取会话列表的默认数量
const DefaultDialogsLimit = 20

// DialogsLimitOrDefault 返回配置的会话列表数量上限
func (t *Telegram) DialogsLimitOrDefault() int {
	if t == nil || t.DialogsLimit <= 0 {
		return DefaultDialogsLimit
	}
	return int(t.DialogsLimit)
}
