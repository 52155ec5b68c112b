package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fieldtrack/internal/model"
)

func TestResolution_Score(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 40, Resolution{Kind: Resolved, Value: 40}.Score())
	assert.Equal(t, 100, Resolution{Kind: NoValue}.Score())
	assert.Equal(t, 0, Resolution{Kind: Unresolvable}.Score())
	assert.Equal(t, 0, Resolution{Kind: NoSource}.Score())
}

func TestResolution_Captured(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 40, Resolution{Kind: Resolved, Value: 40}.Captured())
	assert.Equal(t, 0, Resolution{Kind: Resolved, Value: 0}.Captured())
	assert.Equal(t, 100, Resolution{Kind: NoValue}.Captured())
	assert.Equal(t, 100, Resolution{Kind: Unresolvable}.Captured())
	assert.Equal(t, 100, Resolution{Kind: NoSource}.Captured())
}

func TestDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDirectory()
	admin := model.NewRef("admin", "1")
	member := model.NewRef("member", "2")
	bot := model.NewRef("bot", "3")

	d.Put(admin, 40)
	d.PutDefault(member)
	d.Put(bot, 250)

	assert.Equal(t, Resolution{Kind: Resolved, Value: 40}, d.Resolve(ctx, &admin))
	assert.Equal(t, Resolution{Kind: NoValue}, d.Resolve(ctx, &member))
	assert.Equal(t, 100, d.Resolve(ctx, &bot).Value)
	assert.Equal(t, Resolution{Kind: NoSource}, d.Resolve(ctx, nil))
	assert.Equal(t, Resolution{Kind: NoSource}, d.Resolve(ctx, &model.Ref{}))

	d.Forget(admin)
	assert.Equal(t, Resolution{Kind: Unresolvable}, d.Resolve(ctx, &admin))
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var calls int
	r := Func(func(_ context.Context, ref *model.Ref) Resolution {
		calls++
		return Resolution{Kind: Resolved, Value: len(ref.ID)}
	})

	ref := model.NewRef("user", "abc")
	assert.Equal(t, 3, r.Resolve(context.Background(), &ref).Value)
	assert.Equal(t, NoSource, r.Resolve(context.Background(), nil).Kind)
	assert.Equal(t, 1, calls)
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "resolved", Resolved.String())
	assert.Equal(t, "unresolvable", Unresolvable.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
