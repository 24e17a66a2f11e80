// Package database 数据库操作
package database

import (
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"feepay/pkg/logger"
)

// DB 对象
var DB *gorm.DB
var SQLDB *sql.DB

// Open 打开数据库连接
//
// TranslateError 开启后唯一索引冲突统一返回 gorm.ErrDuplicatedKey，
// 缴费记录的幂等依赖这一点。
func Open(dbConfig gorm.Dialector, _logger gormlogger.Interface) (*gorm.DB, error) {
	return gorm.Open(dbConfig, &gorm.Config{
		Logger:         _logger,
		TranslateError: true,
	})
}

// Connect 连接数据库
func Connect(dbConfig gorm.Dialector, _logger gormlogger.Interface) {
	// 使用 gorm.Open 连接数据库
	var err error
	DB, err = Open(dbConfig, _logger)
	// 处理错误
	if err != nil {
		logger.ErrorString("数据库", "连接", err.Error())
		panic(err)
	}

	// 获取底层的 sqlDB
	SQLDB, err = DB.DB()
	if err != nil {
		logger.ErrorString("数据库", "获取底层SQL", err.Error())
		panic(err)
	}
}

// AutoMigrate 自动迁移所有数据表
func AutoMigrate(db *gorm.DB, tables []interface{}) error {
	return db.AutoMigrate(tables...)
}

// IsPostgres 当前连接是否为 PostgreSQL
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// ForUpdate 行锁，SQLite 不支持 SELECT ... FOR UPDATE，写事务本身已经串行
func ForUpdate(db *gorm.DB) *gorm.DB {
	if IsPostgres(db) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
