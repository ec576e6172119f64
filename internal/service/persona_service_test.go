package service

import (
	"testing"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// personaRepoFake 是 PersonaRepository 的内存实现。
type personaRepoFake struct {
	personas map[uint]*model.Persona
	nextID   uint
}

func newPersonaRepoFake() *personaRepoFake {
	return &personaRepoFake{personas: make(map[uint]*model.Persona)}
}

func (r *personaRepoFake) Create(persona *model.Persona) error {
	r.nextID++
	persona.ID = r.nextID
	r.personas[persona.ID] = persona
	return nil
}

func (r *personaRepoFake) FindByID(personaID uint) (*model.Persona, error) {
	persona, exists := r.personas[personaID]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	return persona, nil
}

func (r *personaRepoFake) FindByIDAndAuthor(personaID, authorID uint) (*model.Persona, error) {
	persona, err := r.FindByID(personaID)
	if err != nil || persona.AuthorID != authorID {
		return nil, gorm.ErrRecordNotFound
	}
	return persona, nil
}

func (r *personaRepoFake) FindAllByAuthor(authorID uint) ([]model.Persona, error) {
	var out []model.Persona
	for _, p := range r.personas {
		if p.AuthorID == authorID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *personaRepoFake) Update(persona *model.Persona) error {
	r.personas[persona.ID] = persona
	return nil
}

func (r *personaRepoFake) Delete(personaID, authorID uint) error {
	delete(r.personas, personaID)
	return nil
}

func TestPersonaCreateAndGet(t *testing.T) {
	repo := newPersonaRepoFake()
	svc := NewPersonaService(repo)

	age := 20
	created, err := svc.Create(1, PersonaRequest{Nickname: "阿和", Age: &age, Description: "侦探"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, uint(1), created.AuthorID)

	got, err := svc.Get(created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "阿和", got.Nickname)
}

func TestPersonaCreateValidation(t *testing.T) {
	svc := NewPersonaService(newPersonaRepoFake())

	_, err := svc.Create(1, PersonaRequest{Nickname: "  "})
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))

	badAge := -1
	_, err = svc.Create(1, PersonaRequest{Nickname: "阿和", Age: &badAge})
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))
}

func TestPersonaOwnershipEnforced(t *testing.T) {
	repo := newPersonaRepoFake()
	svc := NewPersonaService(repo)

	created, err := svc.Create(1, PersonaRequest{Nickname: "阿和"})
	require.NoError(t, err)

	_, err = svc.Get(created.ID, 2)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))

	_, err = svc.Update(created.ID, 2, PersonaRequest{Nickname: "篡改"})
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))

	err = svc.Delete(created.ID, 2)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}

func TestPersonaUpdateReplacesOptionalFields(t *testing.T) {
	repo := newPersonaRepoFake()
	svc := NewPersonaService(repo)

	age := 20
	created, err := svc.Create(1, PersonaRequest{Nickname: "阿和", Age: &age})
	require.NoError(t, err)

	// 更新时未提供的可选字段被清空而不是保留
	updated, err := svc.Update(created.ID, 1, PersonaRequest{Nickname: "新名字"})
	require.NoError(t, err)
	assert.Equal(t, "新名字", updated.Nickname)
	assert.Nil(t, updated.Age)
}

func TestPersonaDelete(t *testing.T) {
	repo := newPersonaRepoFake()
	svc := NewPersonaService(repo)

	created, err := svc.Create(1, PersonaRequest{Nickname: "阿和"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(created.ID, 1))
	_, err = svc.Get(created.ID, 1)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}
