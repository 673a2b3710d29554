package models

// User представляет пользователя
type User struct {
	ID       int64
	Email    string
	PassHash []byte
	IsAdmin  bool // расширенные права: presencial-продажи, ручные переводы статусов
}
