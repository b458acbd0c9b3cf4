package app

import (
	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/repos"
)

type Repos struct {
	Sessions repos.ChatSessionRepo
	Messages repos.ChatMessageRepo
	Queries  repos.RetrievalQueryRepo
	Tasks    repos.IndexTaskRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Sessions: repos.NewChatSessionRepo(db, log),
		Messages: repos.NewChatMessageRepo(db, log),
		Queries:  repos.NewRetrievalQueryRepo(db, log),
		Tasks:    repos.NewIndexTaskRepo(db, log),
	}
}
