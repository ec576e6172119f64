package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCharacterRepo 是 CharacterRepository 的内存实现。
type fakeCharacterRepo struct {
	characters map[uint]*model.Character
	nextID     uint
}

func newFakeCharacterRepo() *fakeCharacterRepo {
	return &fakeCharacterRepo{characters: make(map[uint]*model.Character)}
}

func (r *fakeCharacterRepo) CreateWithImages(character *model.Character, images []model.CharacterImage) error {
	r.nextID++
	character.ID = r.nextID
	for i := range images {
		images[i].CharacterID = character.ID
	}
	character.Images = images
	r.characters[character.ID] = character
	return nil
}

func (r *fakeCharacterRepo) FindByID(characterID uint) (*model.Character, error) {
	character, exists := r.characters[characterID]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	return character, nil
}

func (r *fakeCharacterRepo) FindAllByAuthor(authorID uint) ([]model.Character, error) {
	var out []model.Character
	for _, c := range r.characters {
		if c.AuthorID == authorID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeCharacterRepo) Update(character *model.Character, newImages []model.CharacterImage) error {
	for i := range newImages {
		newImages[i].CharacterID = character.ID
	}
	character.Images = append(character.Images, newImages...)
	r.characters[character.ID] = character
	return nil
}

func (r *fakeCharacterRepo) Delete(characterID, authorID uint) error {
	delete(r.characters, characterID)
	return nil
}

// fakeObjectStore 记录上传与删除的对象名。
type fakeObjectStore struct {
	uploaded []string
	removed  []string
}

func (s *fakeObjectStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	s.uploaded = append(s.uploaded, objectName)
	return "http://cdn.local/" + objectName, nil
}

func (s *fakeObjectStore) Remove(ctx context.Context, objectName string) error {
	s.removed = append(s.removed, objectName)
	return nil
}

func (s *fakeObjectStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return "http://cdn.local/presigned/" + objectName, nil
}

func imageUpload(name, keyword string) ImageUpload {
	return ImageUpload{
		Reader:      strings.NewReader("fake image bytes"),
		Size:        16,
		ContentType: "image/png",
		Filename:    name,
		Keyword:     keyword,
	}
}

func TestCreateCharacterFirstImageIsMain(t *testing.T) {
	repo := newFakeCharacterRepo()
	store := &fakeObjectStore{}
	svc := NewCharacterService(repo, store)

	req := CharacterRequest{Name: "小梅", Visibility: model.VisibilityPublic}
	images := []ImageUpload{imageUpload("a.png", "微笑"), imageUpload("b.png", "生气")}

	character, err := svc.Create(context.Background(), 1, req, images)

	require.NoError(t, err)
	require.Len(t, character.Images, 2)
	assert.True(t, character.Images[0].IsMain)
	assert.False(t, character.Images[1].IsMain)
	assert.Equal(t, 0, character.Images[0].DisplayOrder)
	assert.Equal(t, 1, character.Images[1].DisplayOrder)
	assert.Equal(t, "微笑", character.Images[0].Keyword)
	assert.Len(t, store.uploaded, 2)
}

func TestCreateCharacterDefaultsVisibility(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	character, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "小梅"}, nil)

	require.NoError(t, err)
	assert.Equal(t, model.VisibilityPublic, character.Visibility)
}

func TestCreateCharacterValidation(t *testing.T) {
	svc := NewCharacterService(newFakeCharacterRepo(), &fakeObjectStore{})

	_, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "  "}, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))

	_, err = svc.Create(context.Background(), 1, CharacterRequest{Name: "x", Visibility: "everyone"}, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))
}

func TestGetPrivateCharacterAuthorOnly(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "私有角色", Visibility: model.VisibilityPrivate}, nil)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.Get(context.Background(), created.ID, 2)
	assert.Equal(t, apperr.CodeForbidden, apperr.Code(err))
}

func TestGetPrivateCharacterPresignsImages(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1,
		CharacterRequest{Name: "私有角色", Visibility: model.VisibilityPrivate},
		[]ImageUpload{imageUpload("a.png", "")})
	require.NoError(t, err)
	storedURL := created.Images[0].ImageURL

	got, err := svc.Get(context.Background(), created.ID, 1)
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	assert.Contains(t, got.Images[0].ImageURL, "/presigned/")

	// 库内记录保留原始地址
	persisted, err := repo.FindByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, storedURL, persisted.Images[0].ImageURL)
}

func TestGetPublicCharacterKeepsPublicURLs(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1,
		CharacterRequest{Name: "公开角色"},
		[]ImageUpload{imageUpload("a.png", "")})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ID, 2)
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	assert.NotContains(t, got.Images[0].ImageURL, "/presigned/")
}

func TestUpdateCharacterAppendsImagesAfterExisting(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "小梅"}, []ImageUpload{imageUpload("a.png", "")})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, 1, CharacterRequest{Name: "小梅改"}, []ImageUpload{imageUpload("c.png", "")})

	require.NoError(t, err)
	assert.Equal(t, "小梅改", updated.Name)
	require.Len(t, updated.Images, 2)
	// 追加的图片不抢占主图位置
	assert.True(t, updated.Images[0].IsMain)
	assert.False(t, updated.Images[1].IsMain)
	assert.Equal(t, 1, updated.Images[1].DisplayOrder)
}

func TestUpdateCharacterOwnershipEnforced(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "小梅"}, nil)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, 2, CharacterRequest{Name: "篡改"}, nil)
	assert.Equal(t, apperr.CodeForbidden, apperr.Code(err))
}

func TestDeleteCharacterCleansUpObjects(t *testing.T) {
	repo := newFakeCharacterRepo()
	store := &fakeObjectStore{}
	svc := NewCharacterService(repo, store)

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "小梅"}, []ImageUpload{imageUpload("a.png", "")})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID, 1))

	_, err = repo.FindByID(created.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Len(t, store.removed, 1)
	assert.Equal(t, store.uploaded[0], store.removed[0])
}

func TestDeleteCharacterOwnershipEnforced(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "小梅"}, nil)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), created.ID, 2)
	assert.Equal(t, apperr.CodeForbidden, apperr.Code(err))
}

func TestRemoveAnySkipsOwnershipCheck(t *testing.T) {
	repo := newFakeCharacterRepo()
	svc := NewCharacterService(repo, &fakeObjectStore{})

	created, err := svc.Create(context.Background(), 1, CharacterRequest{Name: "违规角色"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveAny(context.Background(), created.ID))
	_, err = repo.FindByID(created.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
