package resolver

import "errors"

var (
	// ErrInvalidReference 无法识别的外部引用，在调用外部工具之前返回
	ErrInvalidReference = errors.New("invalid source reference")
	// ErrResolutionFailed 外部工具无法解析出直链
	ErrResolutionFailed = errors.New("source resolution failed")
	// ErrUpstreamProxy 直链不可访问
	ErrUpstreamProxy = errors.New("upstream proxy failure")
)

// 面向听众的错误文案
const (
	MsgInvalidVideo    = "URL do YouTube invalida."
	MsgInvalidPlaylist = "URL de playlist invalida."
	MsgResolveFailed   = "Falha ao resolver o audio do YouTube."
	MsgTitleFailed     = "Falha ao obter o titulo."
	MsgPlaylistFailed  = "Falha ao listar a playlist."
	MsgUpstreamFailed  = "Falha ao acessar a origem do audio."
)
