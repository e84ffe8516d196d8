package refdata

import (
	"fmt"
	"sync/atomic"
)

// Loader はCatalogを読み込む関数。
type Loader func() (*Catalog, error)

// FileLoader はpathからCatalogを読み込むLoaderを返す。
// pathが空の場合は埋め込みのデフォルトカタログを使用する。
func FileLoader(path string) Loader {
	if path == "" {
		return Default
	}
	return func() (*Catalog, error) {
		return LoadFile(path)
	}
}

// Store は現在のCatalogスナップショットを保持する。
// 読み取りはロックなしで行え、Reloadはスナップショットを丸ごと差し替える。
type Store struct {
	load    Loader
	current atomic.Pointer[Catalog]
}

// NewStore はloadで初回読み込みを行いStoreを生成する。
func NewStore(load Loader) (*Store, error) {
	s := &Store{load: load}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot は現在のCatalogを返す。
func (s *Store) Snapshot() *Catalog {
	return s.current.Load()
}

// Reload はCatalogを再読み込みして差し替える。
// 失敗した場合は既存のスナップショットを維持する。
func (s *Store) Reload() error {
	c, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load reference data: %w", err)
	}
	s.current.Store(c)
	return nil
}
