package service

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/api/dto"
	"Shoptalk/internal/model"
	"Shoptalk/internal/pkg/consts"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/mongo"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// ---- 内存版仓储 ----

type fakeConvRepo struct {
	convs  map[uint64]*model.Conversation
	nextID uint64

	touchErr error
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[uint64]*model.Conversation), nextID: 1}
}

func (f *fakeConvRepo) GetOrCreate(ctx context.Context, customerID, adminID uint64) (*model.Conversation, error) {
	for _, c := range f.convs {
		if c.CustomerID == customerID && c.AdminID == adminID {
			return c, nil
		}
	}
	c := &model.Conversation{ID: f.nextID, CustomerID: customerID, AdminID: adminID}
	f.convs[c.ID] = c
	f.nextID++
	return c, nil
}

func (f *fakeConvRepo) Get(ctx context.Context, convID uint64) (*model.Conversation, error) {
	c, ok := f.convs[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (f *fakeConvRepo) TouchLastMessage(ctx context.Context, convID uint64, preview string, senderID uint64, recipientIsAdmin bool) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	c := f.convs[convID]
	c.LastMsgContent = preview
	c.LastSenderID = senderID
	c.LastMessageAt = time.Now()
	if recipientIsAdmin {
		c.UnreadAdmin++
	} else {
		c.UnreadCustomer++
	}
	return nil
}

func (f *fakeConvRepo) ResetUnread(ctx context.Context, convID uint64, readerIsAdmin bool) error {
	c, ok := f.convs[convID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if readerIsAdmin {
		c.UnreadAdmin = 0
	} else {
		c.UnreadCustomer = 0
	}
	return nil
}

func (f *fakeConvRepo) ListForCustomer(ctx context.Context, customerID uint64) ([]*model.Conversation, error) {
	var res []*model.Conversation
	for _, c := range f.convs {
		if c.CustomerID == customerID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeConvRepo) ListAll(ctx context.Context) ([]*model.Conversation, error) {
	var res []*model.Conversation
	for _, c := range f.convs {
		res = append(res, c)
	}
	return res, nil
}

func (f *fakeConvRepo) CountTotal(ctx context.Context) (int64, error) {
	return int64(len(f.convs)), nil
}

func (f *fakeConvRepo) CountUnreadForAdmin(ctx context.Context) (int64, error) {
	var n int64
	for _, c := range f.convs {
		if c.UnreadAdmin > 0 {
			n++
		}
	}
	return n, nil
}

type fakeMsgRepo struct {
	msgs   []*mongo.Message
	nextID int

	saveErr error
}

func (f *fakeMsgRepo) SaveMessage(ctx context.Context, msg *mongo.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.nextID++
	msg.ID = fmt.Sprintf("m%d", f.nextID)
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeMsgRepo) GetHistory(ctx context.Context, convID uint64, beforeID string, pageSize int) ([]*mongo.Message, error) {
	var res []*mongo.Message
	for i := len(f.msgs) - 1; i >= 0 && len(res) < pageSize; i-- {
		if f.msgs[i].ConversationID == convID {
			res = append(res, f.msgs[i])
		}
	}
	return res, nil
}

func (f *fakeMsgRepo) MarkConversationRead(ctx context.Context, convID uint64, readerID uint64) (int64, error) {
	var modified int64
	for _, m := range f.msgs {
		if m.ConversationID == convID && m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			modified++
		}
	}
	return modified, nil
}

func (f *fakeMsgRepo) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	for _, m := range f.msgs {
		if !m.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

// ---- 测试装配 ----

const (
	customerID = uint64(10)
	adminID    = uint64(99)
)

func newTestService(convRepo *fakeConvRepo, msgRepo *fakeMsgRepo, h *hub.Hub) ChatService {
	cfg := config.ChatConfig{SupportAdminID: adminID, HistoryPageSize: 20}
	return NewChatService(convRepo, msgRepo, h, nil, cfg)
}

func recvEvent(t *testing.T, c *hub.Client) *dto.ChatEventDTO {
	t.Helper()
	select {
	case data := <-c.Events():
		var ev dto.ChatEventDTO
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("解析事件失败: %v", err)
		}
		return &ev
	case <-time.After(time.Second):
		t.Fatal("等待事件超时")
		return nil
	}
}

func expectSilence(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Events():
		t.Fatalf("不应收到事件: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// ---- 用例 ----

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	h := hub.NewHub()
	svc := newTestService(convRepo, msgRepo, h)

	watcher := hub.NewClient(adminID, "staff", true, 8)
	h.Register(consts.ChatAdminAudience, watcher)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := svc.SendMessage(context.Background(), customerID, false, &dto.SendMessageReq{Content: content})
		if !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("空白内容 %q 未被拒绝: %v", content, err)
		}
	}

	if len(msgRepo.msgs) != 0 {
		t.Fatalf("校验失败仍然落库: %d", len(msgRepo.msgs))
	}
	expectSilence(t, watcher)
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	h := hub.NewHub()
	svc := newTestService(convRepo, msgRepo, h)

	staff := hub.NewClient(adminID, "staff", true, 8)
	h.Register(consts.ChatAdminAudience, staff)

	// 顾客首次发消息不带会话 ID，由服务端指派默认客服建会话
	msg, err := svc.SendMessage(context.Background(), customerID, false, &dto.SendMessageReq{
		Content:     "  你好，订单一直没发货  ",
		ClientMsgID: "local-1",
	})
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if msg.ID == "" {
		t.Fatal("返回的消息应带服务端持久化 ID")
	}
	if msg.IsRead {
		t.Fatal("新消息不应是已读状态")
	}
	if msg.Content != "你好，订单一直没发货" {
		t.Fatalf("内容未去除首尾空白: %q", msg.Content)
	}
	if msg.ClientMsgID != "local-1" {
		t.Fatalf("客户端消息 ID 未回传: %q", msg.ClientMsgID)
	}

	conv, err := convRepo.Get(context.Background(), msg.ConversationID)
	if err != nil {
		t.Fatalf("会话未创建: %v", err)
	}
	if conv.AdminID != adminID {
		t.Fatalf("未指派默认客服: %d", conv.AdminID)
	}
	if conv.LastMsgContent != msg.Content {
		t.Fatalf("lastMessage 未更新: %q", conv.LastMsgContent)
	}
	if conv.UnreadAdmin != 1 {
		t.Fatalf("客服侧未读数未递增: %d", conv.UnreadAdmin)
	}

	// 顾客来信要推到客服全局视图
	ev := recvEvent(t, staff)
	if ev.Type != consts.EventNewMessage || ev.Message == nil || ev.Message.ID != msg.ID {
		t.Fatalf("客服侧事件异常: %+v", ev)
	}
}

func TestSendMessageAdminRequiresConversation(t *testing.T) {
	svc := newTestService(newFakeConvRepo(), &fakeMsgRepo{}, hub.NewHub())

	_, err := svc.SendMessage(context.Background(), adminID, true, &dto.SendMessageReq{Content: "在的"})
	if !errors.Is(err, ErrConversationRequired) {
		t.Fatalf("客服不带会话 ID 应被拒绝: %v", err)
	}
}

func TestSendMessagePersistFailureNoBroadcast(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{saveErr: errors.New("mongo down")}
	h := hub.NewHub()
	svc := newTestService(convRepo, msgRepo, h)

	conv, _ := convRepo.GetOrCreate(context.Background(), customerID, adminID)
	watcher := hub.NewClient(adminID, "staff", true, 8)
	h.Register(consts.ConversationKey(conv.ID), watcher)
	h.Register(consts.ChatAdminAudience, watcher)

	_, err := svc.SendMessage(context.Background(), customerID, false, &dto.SendMessageReq{
		ConversationID: conv.ID,
		Content:        "你好",
	})
	if err == nil {
		t.Fatal("落库失败应向调用方返回错误")
	}
	if !strings.Contains(err.Error(), "save message") {
		t.Fatalf("错误未携带阶段上下文: %v", err)
	}

	// 未提交不得外泄事件
	expectSilence(t, watcher)
	if conv.LastMsgContent != "" || conv.UnreadAdmin != 0 {
		t.Fatalf("落库失败却更新了会话: %+v", conv)
	}
}

func TestMarkReadIdempotentAndScoped(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	h := hub.NewHub()
	svc := newTestService(convRepo, msgRepo, h)

	ctx := context.Background()
	conv, _ := convRepo.GetOrCreate(ctx, customerID, adminID)

	if _, err := svc.SendMessage(ctx, customerID, false, &dto.SendMessageReq{ConversationID: conv.ID, Content: "发货了吗"}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if _, err := svc.SendMessage(ctx, customerID, false, &dto.SendMessageReq{ConversationID: conv.ID, Content: "在吗"}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if _, err := svc.SendMessage(ctx, adminID, true, &dto.SendMessageReq{ConversationID: conv.ID, Content: "马上查"}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	if err := svc.MarkRead(ctx, adminID, conv.ID); err != nil {
		t.Fatalf("标记已读失败: %v", err)
	}

	for _, m := range msgRepo.msgs {
		if m.SenderID == customerID && !m.IsRead {
			t.Fatalf("对方消息未置为已读: %+v", m)
		}
		if m.SenderID == adminID && m.IsRead {
			t.Fatalf("读者自己的消息被错误翻转: %+v", m)
		}
	}
	if conv.UnreadAdmin != 0 {
		t.Fatalf("客服侧未读数未清零: %d", conv.UnreadAdmin)
	}

	// 幂等：二次调用不改变任何持久化状态
	before := make([]mongo.Message, 0, len(msgRepo.msgs))
	for _, m := range msgRepo.msgs {
		before = append(before, *m)
	}
	if err := svc.MarkRead(ctx, adminID, conv.ID); err != nil {
		t.Fatalf("重复标记已读失败: %v", err)
	}
	for i, m := range msgRepo.msgs {
		if *m != before[i] {
			t.Fatalf("重复标记改变了消息状态: %+v -> %+v", before[i], *m)
		}
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	svc := newTestService(newFakeConvRepo(), &fakeMsgRepo{}, hub.NewHub())

	err := svc.MarkRead(context.Background(), adminID, 12345)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("不存在的会话应返回未找到: %v", err)
	}
}

func TestTypingNeverPersisted(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	h := hub.NewHub()
	svc := newTestService(convRepo, msgRepo, h)

	ctx := context.Background()
	conv, _ := convRepo.GetOrCreate(ctx, customerID, adminID)

	peer := hub.NewClient(adminID, "staff", true, 8)
	sender := hub.NewClient(customerID, "alice", false, 8)
	h.Register(consts.ConversationKey(conv.ID), peer)
	h.Register(consts.ConversationKey(conv.ID), sender)

	for i := 0; i < 5; i++ {
		err := svc.SetTyping(ctx, &dto.TypingReq{
			ConversationID: conv.ID,
			UserID:         customerID,
			UserName:       "alice",
			IsTyping:       true,
		})
		if err != nil {
			t.Fatalf("输入状态上报失败: %v", err)
		}
	}

	if len(msgRepo.msgs) != 0 {
		t.Fatalf("输入状态被持久化了: %d", len(msgRepo.msgs))
	}

	ev := recvEvent(t, peer)
	if ev.Type != consts.EventTyping || !ev.IsTyping || ev.UserID != customerID {
		t.Fatalf("对端输入状态事件异常: %+v", ev)
	}
	// 发起方自己的连接不收回显
	expectSilence(t, sender)
}

func TestTypingMissingFields(t *testing.T) {
	svc := newTestService(newFakeConvRepo(), &fakeMsgRepo{}, hub.NewHub())

	err := svc.SetTyping(context.Background(), &dto.TypingReq{UserID: customerID, IsTyping: true})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("缺会话 ID 应被拒绝: %v", err)
	}
	err = svc.SetTyping(context.Background(), &dto.TypingReq{ConversationID: 1, IsTyping: true})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("缺用户 ID 应被拒绝: %v", err)
	}
}

func TestGetStats(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	svc := newTestService(convRepo, msgRepo, hub.NewHub())

	ctx := context.Background()
	conv1, _ := convRepo.GetOrCreate(ctx, customerID, adminID)
	convRepo.GetOrCreate(ctx, customerID+1, adminID)

	if _, err := svc.SendMessage(ctx, customerID, false, &dto.SendMessageReq{ConversationID: conv1.ID, Content: "hi"}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.TotalConversations != 2 {
		t.Fatalf("会话总数异常: %d", stats.TotalConversations)
	}
	if stats.UnreadConversations != 1 {
		t.Fatalf("未读会话数异常: %d", stats.UnreadConversations)
	}
	if stats.TodayMessages != 1 {
		t.Fatalf("今日消息数异常: %d", stats.TodayMessages)
	}
}

func TestStreamKeys(t *testing.T) {
	convRepo := newFakeConvRepo()
	svc := newTestService(convRepo, &fakeMsgRepo{}, hub.NewHub())

	ctx := context.Background()
	conv, _ := convRepo.GetOrCreate(ctx, customerID, adminID)

	keys, err := svc.StreamKeys(ctx, customerID, false)
	if err != nil {
		t.Fatalf("计算订阅键失败: %v", err)
	}
	want := map[string]bool{
		consts.UserKey(customerID):      true,
		consts.ConversationKey(conv.ID): true,
	}
	if len(keys) != len(want) {
		t.Fatalf("订阅键数量异常: %v", keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("意外的订阅键: %s", k)
		}
	}

	adminKeys, err := svc.StreamKeys(ctx, adminID, true)
	if err != nil {
		t.Fatalf("计算客服订阅键失败: %v", err)
	}
	var hasAudience bool
	for _, k := range adminKeys {
		if k == consts.ChatAdminAudience {
			hasAudience = true
		}
	}
	if !hasAudience {
		t.Fatalf("客服缺少全局视图订阅: %v", adminKeys)
	}
}
