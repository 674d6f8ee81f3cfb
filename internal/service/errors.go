package service

import "errors"

// ErrThreadNotFound 在按属主操作线程但目录中不存在时返回。
var ErrThreadNotFound = errors.New("thread not found")
