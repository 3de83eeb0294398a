package sentiment

// Keyword lists are matched against lower-cased text, so every entry is
// stored lower-case (CJK and emoji are unaffected by case folding).
var (
	adultKeywords = []string{
		"色情", "淫秽", "裸体", "性交", "做爱", "约炮", "卖淫",
		"黄色", "三级片", "性服务", "援交",
		"色播", "裸聊", "情趣",
	}

	politicalKeywords = []string{
		"反党", "反政府", "反国家", "颠覆", "暴动", "造反",
		"法轮", "邪教", "分裂", "恐怖", "恐怖主义",
		"反共", "反华", "反体制", "六四", "天安门",
	}

	violenceKeywords = []string{
		"杀人", "杀戮", "暴力", "血腥", "残忍", "虐待",
		"自杀", "自残", "炸弹", "爆炸", "投毒",
		"枪支", "管制刀具", "毒药", "毒品",
	}

	illegalKeywords = []string{
		"赌博", "博彩", "赌场", "彩票", "六合彩",
		"诈骗", "传销", "洗钱", "高利贷", "套路贷",
		"假币", "假发票", "走私", "贩卖",
	}

	positiveKeywords = []string{
		"开心", "快乐", "幸福", "美好", "优秀", "棒", "赞",
		"喜欢", "爱", "感谢", "支持", "加油", "努力",
		"成功", "胜利", "棒棒", "厉害", "太好了",
		"😊", "😄", "👍", "💪", "❤️", "🎉",
	}

	negativeKeywords = []string{
		"难过", "伤心", "痛苦", "失望", "糟糕", "差",
		"讨厌", "恨", "愤怒", "生气", "烦",
		"失败", "完蛋", "垃圾", "废物", "没用",
		"😭", "😢", "😡", "😠", "💔",
	}
)
